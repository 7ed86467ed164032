package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pianocoach/pianocoach/internal/audio"
	"github.com/pianocoach/pianocoach/internal/live"
)

const (
	defaultFrameInterval = 2500 * time.Millisecond
	frameMIMEType        = "image/jpeg"
	audioMIMEType        = "audio/pcm;rate=16000"

	// Mean-amplitude floor above which a chunk counts as voice activity.
	voiceActivityThreshold = 0.015
)

// MediaSink receives captured media. Satisfied by *live.Client.
type MediaSink interface {
	SendVideoFrame(mimeType string, data []byte) error
	SendAudioChunk(mimeType string, data []byte) error
}

// Stats is an atomic snapshot of capture progress.
type Stats struct {
	FramesCaptured uint64    `json:"framesCaptured"`
	AudioBytesSent uint64    `json:"audioBytesSent"`
	LastCaptureAt  time.Time `json:"lastCaptureAt"`
	VoiceActive    bool      `json:"voiceActive"`
}

// Scheduler owns the camera and microphone handles for one lesson and drives
// the periodic video producer and the gated audio pump. Sources are bound at
// lesson start and fully released before any re-acquire.
type Scheduler struct {
	sink          MediaSink
	frameInterval time.Duration

	mu           sync.Mutex
	frames       FrameSource
	audioSrc     AudioSource
	videoStop    chan struct{}
	audioStop    chan struct{}
	videoRunning bool
	audioRunning bool
	chunkTap     func(mono []int16, sampleRate int)
	wg           sync.WaitGroup

	framesCaptured atomic.Uint64
	audioBytes     atomic.Uint64
	lastCapture    atomic.Int64
	voiceActive    atomic.Bool
}

func NewScheduler(sink MediaSink, frameInterval time.Duration) *Scheduler {
	if frameInterval <= 0 {
		frameInterval = defaultFrameInterval
	}
	return &Scheduler{
		sink:          sink,
		frameInterval: frameInterval,
	}
}

// SetChunkObserver registers a tap that sees every mono 16kHz chunk the pump
// emits. Used to feed the note detector. Must be set before StartAudio.
func (s *Scheduler) SetChunkObserver(fn func(mono []int16, sampleRate int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkTap = fn
}

// Bind takes ownership of freshly opened sources. Fails if a previous lesson
// did not release its handles.
func (s *Scheduler) Bind(frames FrameSource, audioSrc AudioSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames != nil || s.audioSrc != nil {
		return errors.New("capture sources already bound")
	}
	if frames == nil || audioSrc == nil {
		return ErrCaptureUnavailable
	}
	s.frames = frames
	s.audioSrc = audioSrc
	return nil
}

// Release stops both producers and closes the device handles. Safe to call
// when nothing is bound.
func (s *Scheduler) Release() {
	s.StopVideo()
	s.StopAudio()

	s.mu.Lock()
	frames := s.frames
	audioSrc := s.audioSrc
	s.frames = nil
	s.audioSrc = nil
	s.mu.Unlock()

	if frames != nil {
		_ = frames.Close()
	}
	if audioSrc != nil {
		_ = audioSrc.Close()
	}
	s.voiceActive.Store(false)
}

// StartVideo begins the periodic frame producer. No-op when already running.
func (s *Scheduler) StartVideo() {
	s.mu.Lock()
	if s.videoRunning || s.frames == nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.videoStop = stop
	s.videoRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.videoLoop(stop)
}

func (s *Scheduler) StopVideo() {
	s.mu.Lock()
	if !s.videoRunning {
		s.mu.Unlock()
		return
	}
	close(s.videoStop)
	s.videoRunning = false
	s.mu.Unlock()
}

// StartAudio begins the microphone pump. The caller gates this on the lesson
// stage; the scheduler itself knows nothing about stages.
func (s *Scheduler) StartAudio() {
	s.mu.Lock()
	if s.audioRunning || s.audioSrc == nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.audioStop = stop
	s.audioRunning = true
	src := s.audioSrc
	tap := s.chunkTap
	s.mu.Unlock()

	s.wg.Add(1)
	go s.audioLoop(src, tap, stop)
}

func (s *Scheduler) StopAudio() {
	s.mu.Lock()
	if !s.audioRunning {
		s.mu.Unlock()
		return
	}
	close(s.audioStop)
	s.audioRunning = false
	s.mu.Unlock()
	s.voiceActive.Store(false)
}

// AudioRunning reports whether the pump is currently active.
func (s *Scheduler) AudioRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioRunning
}

// SwapAudioSource replaces the microphone handle mid-lesson. The old handle
// is fully closed before the new one is bound; the pump is restarted if it
// was running.
func (s *Scheduler) SwapAudioSource(src AudioSource) error {
	if src == nil {
		return ErrCaptureUnavailable
	}
	s.mu.Lock()
	wasRunning := s.audioRunning
	s.mu.Unlock()

	s.StopAudio()

	s.mu.Lock()
	old := s.audioSrc
	s.audioSrc = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	s.mu.Lock()
	s.audioSrc = src
	s.mu.Unlock()

	if wasRunning {
		s.StartAudio()
	}
	return nil
}

// CaptureOneFrame grabs a frame immediately, outside the ticker cadence, and
// returns it without sending it anywhere.
func (s *Scheduler) CaptureOneFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	src := s.frames
	s.mu.Unlock()
	if src == nil || !src.Ready() {
		return Frame{}, ErrCaptureUnavailable
	}
	frame, err := src.CaptureFrame(ctx)
	if err != nil {
		return Frame{}, err
	}
	s.framesCaptured.Add(1)
	s.lastCapture.Store(frame.CapturedAt.UnixNano())
	return frame, nil
}

// Snapshot returns the current capture counters.
func (s *Scheduler) Snapshot() Stats {
	st := Stats{
		FramesCaptured: s.framesCaptured.Load(),
		AudioBytesSent: s.audioBytes.Load(),
		VoiceActive:    s.voiceActive.Load(),
	}
	if ns := s.lastCapture.Load(); ns > 0 {
		st.LastCaptureAt = time.Unix(0, ns)
	}
	return st
}

func (s *Scheduler) videoLoop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tickVideo()
		}
	}
}

func (s *Scheduler) tickVideo() {
	s.mu.Lock()
	src := s.frames
	s.mu.Unlock()
	if src == nil || !src.Ready() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.frameInterval)
	frame, err := src.CaptureFrame(ctx)
	cancel()
	if err != nil {
		log.Printf("capture: frame skipped: %v", err)
		return
	}
	s.framesCaptured.Add(1)
	s.lastCapture.Store(frame.CapturedAt.UnixNano())
	mime := frame.MIMEType
	if mime == "" {
		mime = frameMIMEType
	}
	if err := s.sink.SendVideoFrame(mime, frame.Data); err != nil {
		// Not connected yet, or connection went away. The next tick retries.
		return
	}
}

func (s *Scheduler) audioLoop(src AudioSource, tap func([]int16, int), stop <-chan struct{}) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	srcRate := src.SampleRate()
	channels := src.Channels()
	for {
		select {
		case <-stop:
			return
		default:
		}
		samples, err := src.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("capture: audio pump stopped: %v", err)
			}
			return
		}
		if len(samples) == 0 {
			continue
		}
		mono := audio.DownmixToMono(samples, channels)
		mono = audio.Resample(mono, srcRate, audio.WireSampleRate)
		s.voiceActive.Store(audio.MeanAmplitude(mono) >= voiceActivityThreshold)
		if tap != nil {
			tap(mono, audio.WireSampleRate)
		}
		payload := audio.BytesFromInt16(mono)
		s.audioBytes.Add(uint64(len(payload)))
		if err := s.sink.SendAudioChunk(audioMIMEType, payload); err != nil {
			if errors.Is(err, live.ErrNotConnected) {
				continue
			}
			return
		}
	}
}
