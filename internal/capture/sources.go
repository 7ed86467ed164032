package capture

import (
	"context"
	"errors"
	"time"
)

// ErrCaptureUnavailable reports that a camera or microphone handle could not
// be opened or has stopped producing data.
var ErrCaptureUnavailable = errors.New("capture source unavailable")

// Frame is one encoded camera image ready for the wire.
type Frame struct {
	MIMEType   string
	Data       []byte
	CapturedAt time.Time
}

// FrameSource is a camera handle. Ready reports whether the device can
// currently deliver a frame; CaptureFrame blocks until one is encoded.
type FrameSource interface {
	Ready() bool
	CaptureFrame(ctx context.Context) (Frame, error)
	Close() error
}

// AudioSource is a microphone handle delivering interleaved PCM16 samples at
// the device's native rate and channel count.
type AudioSource interface {
	SampleRate() int
	Channels() int
	ReadChunk(ctx context.Context) ([]int16, error)
	Close() error
}
