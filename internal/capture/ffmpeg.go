package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegConfig describes the local camera and microphone devices grabbed
// through an ffmpeg binary. Input formats are platform dependent (v4l2 and
// alsa on Linux, avfoundation on macOS).
type FFmpegConfig struct {
	BinaryPath     string
	CameraDevice   string
	CameraFormat   string
	MicDevice      string
	MicFormat      string
	MicSampleRate  int
	MicChannels    int
	CaptureTimeout time.Duration
	ChunkSamples   int
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if strings.TrimSpace(c.BinaryPath) == "" {
		c.BinaryPath = "ffmpeg"
	}
	if strings.TrimSpace(c.CameraFormat) == "" {
		c.CameraFormat = "v4l2"
	}
	if strings.TrimSpace(c.MicFormat) == "" {
		c.MicFormat = "alsa"
	}
	if c.MicSampleRate <= 0 {
		c.MicSampleRate = 48000
	}
	if c.MicChannels <= 0 {
		c.MicChannels = 1
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 4 * time.Second
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 2048
	}
	return c
}

// FFmpegCamera grabs single JPEG frames from a local video device by running
// one short ffmpeg process per capture.
type FFmpegCamera struct {
	cfg FFmpegConfig

	mu     sync.Mutex
	closed bool
}

// NewFFmpegCamera returns a camera handle for cfg.CameraDevice. The device is
// only probed on the first capture.
func NewFFmpegCamera(cfg FFmpegConfig) (*FFmpegCamera, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.CameraDevice) == "" {
		return nil, fmt.Errorf("%w: no camera device configured", ErrCaptureUnavailable)
	}
	return &FFmpegCamera{cfg: cfg}, nil
}

func (c *FFmpegCamera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *FFmpegCamera) CaptureFrame(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, ErrCaptureUnavailable
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", c.cfg.CameraFormat,
		"-i", c.cfg.CameraDevice,
		"-frames:v", "1",
		"-q:v", "4",
		"-f", "image2",
		"-vcodec", "mjpeg",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return Frame{}, fmt.Errorf("%w: %s", ErrCaptureUnavailable, detail)
	}
	data := stdout.Bytes()
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame from %s", ErrCaptureUnavailable, c.cfg.CameraDevice)
	}
	return Frame{MIMEType: "image/jpeg", Data: data, CapturedAt: time.Now()}, nil
}

func (c *FFmpegCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FFmpegMicrophone streams interleaved PCM16 from a local audio device
// through one long-running ffmpeg process writing s16le to stdout.
type FFmpegMicrophone struct {
	cfg    FFmpegConfig
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	mu     sync.Mutex
	closed bool
}

// NewFFmpegMicrophone starts the capture process immediately so device
// errors surface at bind time instead of during the lesson.
func NewFFmpegMicrophone(cfg FFmpegConfig) (*FFmpegMicrophone, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.MicDevice) == "" {
		return nil, fmt.Errorf("%w: no microphone device configured", ErrCaptureUnavailable)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", cfg.MicFormat,
		"-i", cfg.MicDevice,
		"-ac", strconv.Itoa(cfg.MicChannels),
		"-ar", strconv.Itoa(cfg.MicSampleRate),
		"-f", "s16le",
		"pipe:1",
	}
	cmd := exec.Command(cfg.BinaryPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return &FFmpegMicrophone{cfg: cfg, cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (m *FFmpegMicrophone) SampleRate() int { return m.cfg.MicSampleRate }
func (m *FFmpegMicrophone) Channels() int   { return m.cfg.MicChannels }

func (m *FFmpegMicrophone) ReadChunk(ctx context.Context) ([]int16, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrCaptureUnavailable
	}
	m.mu.Unlock()

	raw := make([]byte, m.cfg.ChunkSamples*2)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(m.stdout, raw)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			detail := strings.TrimSpace(m.stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			return nil, fmt.Errorf("%w: %s", ErrCaptureUnavailable, detail)
		}
	}

	samples := make([]int16, m.cfg.ChunkSamples)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

func (m *FFmpegMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	_ = m.stdout.Close()
	return nil
}
