package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pianocoach/pianocoach/internal/live"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	chunks [][]byte
	reject bool
}

func (f *fakeSink) SendVideoFrame(mimeType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return live.ErrNotConnected
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSink) SendAudioChunk(mimeType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return live.ErrNotConnected
	}
	f.chunks = append(f.chunks, data)
	return nil
}

func (f *fakeSink) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames), len(f.chunks)
}

type fakeCamera struct {
	mu    sync.Mutex
	ready bool
	shots int
}

func (f *fakeCamera) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeCamera) CaptureFrame(context.Context) (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots++
	return Frame{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}, CapturedAt: time.Now()}, nil
}

func (f *fakeCamera) Close() error { return nil }

type fakeMic struct {
	rate     int
	channels int
	chunk    []int16
	closed   chan struct{}
	once     sync.Once
}

func newFakeMic(rate, channels int, chunk []int16) *fakeMic {
	return &fakeMic{rate: rate, channels: channels, chunk: chunk, closed: make(chan struct{})}
}

func (f *fakeMic) SampleRate() int { return f.rate }
func (f *fakeMic) Channels() int   { return f.channels }

func (f *fakeMic) ReadChunk(ctx context.Context) ([]int16, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, ErrCaptureUnavailable
	case <-time.After(5 * time.Millisecond):
		return append([]int16(nil), f.chunk...), nil
	}
}

func (f *fakeMic) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestBindRejectsDoubleAcquire(t *testing.T) {
	s := NewScheduler(&fakeSink{}, time.Hour)
	cam := &fakeCamera{ready: true}
	mic := newFakeMic(16000, 1, make([]int16, 160))
	if err := s.Bind(cam, mic); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := s.Bind(cam, mic); err == nil {
		t.Fatalf("second Bind should fail while handles are held")
	}
	s.Release()
	if err := s.Bind(cam, newFakeMic(16000, 1, nil)); err != nil {
		t.Fatalf("Bind after Release: %v", err)
	}
}

func TestBindNilSourcesUnavailable(t *testing.T) {
	s := NewScheduler(&fakeSink{}, time.Hour)
	if err := s.Bind(nil, nil); err != ErrCaptureUnavailable {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}
}

func TestVideoProducerSkipsWhenNotReady(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, 10*time.Millisecond)
	cam := &fakeCamera{ready: false}
	if err := s.Bind(cam, newFakeMic(16000, 1, nil)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Release()
	s.StartVideo()

	time.Sleep(60 * time.Millisecond)
	if n, _ := sink.counts(); n != 0 {
		t.Fatalf("frames sent while camera not ready: %d", n)
	}

	cam.mu.Lock()
	cam.ready = true
	cam.mu.Unlock()
	waitFor(t, func() bool { n, _ := sink.counts(); return n >= 2 })
	if s.Snapshot().FramesCaptured < 2 {
		t.Fatalf("frame counter = %d", s.Snapshot().FramesCaptured)
	}
	if s.Snapshot().LastCaptureAt.IsZero() {
		t.Fatalf("last-capture timestamp not recorded")
	}
}

func TestAudioPumpConvertsAndCounts(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, time.Hour)
	// Stereo 32kHz loud chunk: downmix + resample should halve the length.
	chunk := make([]int16, 640)
	for i := range chunk {
		chunk[i] = 16000
	}
	mic := newFakeMic(32000, 2, chunk)
	if err := s.Bind(&fakeCamera{ready: true}, mic); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Release()
	s.StartAudio()
	if !s.AudioRunning() {
		t.Fatalf("pump should be running")
	}

	waitFor(t, func() bool { _, n := sink.counts(); return n >= 1 })
	sink.mu.Lock()
	first := sink.chunks[0]
	sink.mu.Unlock()
	// 640 stereo samples at 32kHz -> 320 mono -> 160 samples at 16kHz -> 320 bytes.
	if len(first) != 320 {
		t.Fatalf("chunk size = %d bytes, want 320", len(first))
	}
	if !s.Snapshot().VoiceActive {
		t.Fatalf("loud chunk should flag voice activity")
	}
	if s.Snapshot().AudioBytesSent == 0 {
		t.Fatalf("audio byte counter not advanced")
	}

	s.StopAudio()
	if s.AudioRunning() {
		t.Fatalf("pump should be stopped")
	}
	if s.Snapshot().VoiceActive {
		t.Fatalf("voice activity must clear when the pump stops")
	}
}

func TestChunkObserverSeesMonoSamples(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, time.Hour)

	var mu sync.Mutex
	var got []int16
	s.SetChunkObserver(func(mono []int16, rate int) {
		mu.Lock()
		defer mu.Unlock()
		if got == nil {
			got = append([]int16(nil), mono...)
		}
		if rate != 16000 {
			t.Errorf("observer rate = %d, want 16000", rate)
		}
	})

	mic := newFakeMic(16000, 1, []int16{100, 200, 300, 400})
	if err := s.Bind(&fakeCamera{ready: true}, mic); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Release()
	s.StartAudio()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 || got[0] != 100 {
		t.Fatalf("observer samples = %v", got)
	}
}

func TestSwapAudioSourceRestartsPump(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(sink, time.Hour)
	old := newFakeMic(16000, 1, []int16{1, 2})
	if err := s.Bind(&fakeCamera{ready: true}, old); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Release()
	s.StartAudio()
	waitFor(t, func() bool { _, n := sink.counts(); return n >= 1 })

	next := newFakeMic(16000, 1, []int16{3, 4})
	if err := s.SwapAudioSource(next); err != nil {
		t.Fatalf("SwapAudioSource: %v", err)
	}
	select {
	case <-old.closed:
	default:
		t.Fatalf("old microphone must be closed before the new one is used")
	}
	if !s.AudioRunning() {
		t.Fatalf("pump should restart after swap")
	}
	_, before := sink.counts()
	waitFor(t, func() bool { _, n := sink.counts(); return n > before })
}

func TestCaptureOneFrameIndependentOfTicker(t *testing.T) {
	s := NewScheduler(&fakeSink{}, time.Hour)
	cam := &fakeCamera{ready: true}
	if err := s.Bind(cam, newFakeMic(16000, 1, nil)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Release()

	frame, err := s.CaptureOneFrame(context.Background())
	if err != nil {
		t.Fatalf("CaptureOneFrame: %v", err)
	}
	if frame.MIMEType != "image/jpeg" || len(frame.Data) == 0 {
		t.Fatalf("frame = %+v", frame)
	}
	if s.Snapshot().FramesCaptured != 1 {
		t.Fatalf("counter = %d, want 1", s.Snapshot().FramesCaptured)
	}

	cam.mu.Lock()
	cam.ready = false
	cam.mu.Unlock()
	if _, err := s.CaptureOneFrame(context.Background()); err != ErrCaptureUnavailable {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}
}
