package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pianocoach/pianocoach/internal/capture"
	"github.com/pianocoach/pianocoach/internal/lesson"
	"github.com/pianocoach/pianocoach/internal/live"
	"github.com/pianocoach/pianocoach/internal/notedetect"
	"github.com/pianocoach/pianocoach/internal/observability"
	"github.com/pianocoach/pianocoach/internal/protocol"
	"github.com/pianocoach/pianocoach/internal/summary"
	"github.com/pianocoach/pianocoach/internal/transcript"
)

var (
	ErrLessonActive    = errors.New("a lesson is already running")
	ErrLessonNotActive = errors.New("no lesson is running")
)

const (
	defaultCheckInInterval = 10500 * time.Millisecond
	defaultSettleDelay     = 300 * time.Millisecond
	bootstrapFirstDelay    = time.Second
	bootstrapSecondDelay   = 6 * time.Second
	captureTimeout         = 5 * time.Second

	bootstrapGreeting    = "Hi! I'm ready for my piano lesson today."
	bootstrapKeyboardAsk = "Here comes my camera feed. Tell me once you can see my keyboard and we can begin."
)

// Upstream is the duplex channel the controller drives. Satisfied by
// *live.Client.
type Upstream interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() live.State
	StatusText() string
	Events() <-chan live.Event
	SendUserTurn(parts ...protocol.Part) error
}

// SourceFactory opens fresh camera and microphone handles for one lesson.
type SourceFactory func(ctx context.Context) (capture.FrameSource, capture.AudioSource, error)

type Deps struct {
	Upstream    Upstream
	Scheduler   *capture.Scheduler
	Sources     SourceFactory
	Detector    notedetect.Detector
	Summarizer  summary.Summarizer
	Synthesizer summary.Synthesizer
	Sink        transcript.Sink
	Metrics     *observability.Metrics
}

type Config struct {
	SessionID       string
	PersonaID       string
	PersonaPrompt   string
	VoiceID         string
	CheckInInterval time.Duration
	SettleDelay     time.Duration
}

// Snapshot is the controller state exposed to the HTTP layer.
type Snapshot struct {
	SessionID        string        `json:"session_id"`
	Connection       live.State    `json:"connection"`
	ConnectionDetail string        `json:"connection_detail,omitempty"`
	Stage            lesson.Stage  `json:"stage"`
	LessonActive     bool          `json:"lesson_active"`
	PendingCheckIn   bool          `json:"pending_check_in"`
	DurationSeconds  int           `json:"duration_seconds"`
	Capture          capture.Stats `json:"capture"`
}

// Controller owns one tutoring session end to end: it drives the upstream
// channel, applies completed turns to the lesson state machine, schedules
// periodic check-ins, and runs the end-of-lesson summary handoff.
type Controller struct {
	deps Deps
	cfg  Config

	tracker *lesson.Tracker
	asm     live.Assembler
	subs    *subscribers

	mu              sync.Mutex
	lessonActive    bool
	pendingCheckIn  bool
	pendingStage    lesson.Stage
	pendingSince    time.Time
	durationSeconds int
	entries         []transcript.Entry
	stopLesson      chan struct{}
}

func New(deps Deps, cfg Config) *Controller {
	if cfg.CheckInInterval <= 0 {
		cfg.CheckInInterval = defaultCheckInInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	c := &Controller{
		deps:    deps,
		cfg:     cfg,
		tracker: lesson.NewTracker(),
		subs:    newSubscribers(),
	}
	if deps.Detector != nil {
		deps.Scheduler.SetChunkObserver(deps.Detector.Feed)
		deps.Detector.OnNoteDetected(func(evt notedetect.DetectedEvent) {
			e := evt
			c.subs.publish(Notification{Type: NotifyNoteDetected, Note: &e})
		})
	}
	return c
}

// Subscribe attaches a UI listener to the notification stream.
func (c *Controller) Subscribe() (<-chan Notification, func()) {
	return c.subs.add()
}

// Connect opens the upstream channel and starts consuming its events.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.deps.Upstream.Connect(ctx); err != nil {
		c.subs.publish(Notification{
			Type:  NotifyConnectionState,
			State: string(c.deps.Upstream.State()),
			Text:  c.deps.Upstream.StatusText(),
		})
		return err
	}
	c.subs.publish(Notification{Type: NotifyConnectionState, State: string(live.StateConnected)})
	go c.eventLoop(c.deps.Upstream.Events())
	return nil
}

// StartLesson acquires capture devices and begins the lesson flow. Device
// acquisition runs before any state mutation so a missing camera leaves the
// controller exactly as it was.
func (c *Controller) StartLesson(ctx context.Context) error {
	if c.deps.Upstream.State() != live.StateConnected {
		return live.ErrNotConnected
	}
	c.mu.Lock()
	if c.lessonActive {
		c.mu.Unlock()
		return ErrLessonActive
	}
	c.mu.Unlock()

	frames, audioSrc, err := c.deps.Sources(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrCaptureUnavailable, err)
	}
	if err := c.deps.Scheduler.Bind(frames, audioSrc); err != nil {
		_ = frames.Close()
		_ = audioSrc.Close()
		return err
	}

	c.mu.Lock()
	if c.lessonActive {
		c.mu.Unlock()
		c.deps.Scheduler.Release()
		return ErrLessonActive
	}
	c.lessonActive = true
	c.pendingCheckIn = false
	c.durationSeconds = 0
	c.entries = nil
	stop := make(chan struct{})
	c.stopLesson = stop
	c.mu.Unlock()

	c.tracker.Reset()
	c.tracker.SetStage(lesson.StageCheckingKeyboard)
	c.deps.Scheduler.StartVideo()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSessions.Inc()
		c.deps.Metrics.SessionEvents.WithLabelValues("lesson_started").Inc()
		c.deps.Metrics.StageChanges.WithLabelValues(string(lesson.StageCheckingKeyboard)).Inc()
	}
	c.subs.publish(Notification{Type: NotifyLessonStarted})
	c.subs.publish(Notification{Type: NotifyStageChanged, Stage: lesson.StageCheckingKeyboard})

	go c.lessonLoop(stop)
	return nil
}

// EndLesson stops all lesson activity, returns the stage to idle, and kicks
// off the asynchronous summary handoff and transcript upload. Idempotent.
func (c *Controller) EndLesson() {
	c.mu.Lock()
	if !c.lessonActive {
		c.mu.Unlock()
		return
	}
	c.lessonActive = false
	c.pendingCheckIn = false
	stop := c.stopLesson
	c.stopLesson = nil
	dur := c.durationSeconds
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if c.deps.Detector != nil {
		c.deps.Detector.Stop()
	}
	c.deps.Scheduler.Release()
	c.tracker.SetStage(lesson.StageIdle)

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSessions.Dec()
		c.deps.Metrics.SessionEvents.WithLabelValues("lesson_ended").Inc()
	}
	c.subs.publish(Notification{Type: NotifyStageChanged, Stage: lesson.StageIdle})
	c.subs.publish(Notification{Type: NotifyLessonEnded, Seconds: dur})

	go c.runHandoff(entries, dur)
	go c.uploadTranscript(entries)
}

// Shutdown ends any running lesson and closes the upstream channel.
func (c *Controller) Shutdown() {
	c.EndLesson()
	c.deps.Upstream.Disconnect()
}

// SendUserMessage forwards a typed student message as a completed turn.
func (c *Controller) SendUserMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := c.deps.Upstream.SendUserTurn(protocol.Part{Text: text}); err != nil {
		return err
	}
	c.record("user", text)
	return nil
}

// SwapMicrophone reacquires the capture devices and hands the fresh audio
// source to the scheduler, which releases the old microphone before binding
// the replacement. The frame source from the reacquire is discarded.
func (c *Controller) SwapMicrophone(ctx context.Context) error {
	c.mu.Lock()
	active := c.lessonActive
	c.mu.Unlock()
	if !active {
		return ErrLessonNotActive
	}
	frames, audioSrc, err := c.deps.Sources(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrCaptureUnavailable, err)
	}
	_ = frames.Close()
	if err := c.deps.Scheduler.SwapAudioSource(audioSrc); err != nil {
		_ = audioSrc.Close()
		return err
	}
	log.Printf("controller: session %s switched microphone", c.cfg.SessionID)
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	active := c.lessonActive
	pending := c.pendingCheckIn
	dur := c.durationSeconds
	c.mu.Unlock()
	return Snapshot{
		SessionID:        c.cfg.SessionID,
		Connection:       c.deps.Upstream.State(),
		ConnectionDetail: c.deps.Upstream.StatusText(),
		Stage:            c.tracker.Stage(),
		LessonActive:     active,
		PendingCheckIn:   pending,
		DurationSeconds:  dur,
		Capture:          c.deps.Scheduler.Snapshot(),
	}
}

func (c *Controller) eventLoop(events <-chan live.Event) {
	if events == nil {
		return
	}
	for evt := range events {
		switch evt.Type {
		case live.EventPartialText:
			c.asm.Append(evt.Text)
			c.subs.publish(Notification{Type: NotifyCoachPartial, Text: evt.Text})
		case live.EventTurnComplete:
			c.handleTurn(c.asm.Complete())
		case live.EventServerError:
			c.subs.publish(Notification{Type: NotifyError, Text: evt.Message})
		case live.EventClosed:
			c.handleClosed(evt)
		}
	}
}

// handleTurn applies one completed assistant turn. The pending check-in flag
// clears on every completed turn, whatever its content, so the next tick can
// always make progress.
func (c *Controller) handleTurn(res live.TurnResult) {
	c.mu.Lock()
	wasPending := c.pendingCheckIn
	pendingStage := c.pendingStage
	pendingSince := c.pendingSince
	c.pendingCheckIn = false
	c.mu.Unlock()

	if wasPending && c.deps.Metrics != nil {
		c.deps.Metrics.ObserveCheckInRoundtrip(string(pendingStage), time.Since(pendingSince))
	}

	if res.SessionComplete {
		if text := strings.TrimSpace(res.Text); text != "" {
			c.record("assistant", text)
			c.subs.publish(Notification{Type: NotifyCoachMessage, Text: text, Stage: c.tracker.Stage()})
		}
		log.Printf("controller: session %s completed by coach", c.cfg.SessionID)
		c.EndLesson()
		return
	}

	out := c.tracker.Apply(res.Text)
	if out.Changed {
		if c.deps.Metrics != nil {
			c.deps.Metrics.StageChanges.WithLabelValues(string(out.Stage)).Inc()
		}
		c.subs.publish(Notification{Type: NotifyStageChanged, Stage: out.Stage})
		c.applyAudioGate(out.Stage)
	}
	if out.Suppressed || out.Display == "" {
		return
	}
	c.record("assistant", out.Display)
	c.subs.publish(Notification{Type: NotifyCoachMessage, Text: out.Display, Stage: out.Stage})
}

// applyAudioGate starts the microphone pump only for the stages that listen
// to playing, and stops it the moment the lesson leaves them.
func (c *Controller) applyAudioGate(stage lesson.Stage) {
	c.mu.Lock()
	active := c.lessonActive
	c.mu.Unlock()
	if !active {
		return
	}
	if stage.WantsAudio() {
		c.deps.Scheduler.StartAudio()
		if c.deps.Detector != nil {
			c.deps.Detector.Start()
		}
		return
	}
	c.deps.Scheduler.StopAudio()
	if c.deps.Detector != nil {
		c.deps.Detector.Stop()
	}
}

// handleClosed reacts to the upstream channel ending. On an abnormal drop
// mid-lesson the stage is frozen as-is: the student should not watch their
// progress silently reset to idle because the network blipped.
func (c *Controller) handleClosed(evt live.Event) {
	c.mu.Lock()
	active := c.lessonActive
	c.pendingCheckIn = false
	c.mu.Unlock()

	if active {
		c.deps.Scheduler.StopAudio()
		c.deps.Scheduler.StopVideo()
		if c.deps.Detector != nil {
			c.deps.Detector.Stop()
		}
	}
	c.subs.publish(Notification{
		Type:  NotifyConnectionState,
		State: string(c.deps.Upstream.State()),
		Text:  c.deps.Upstream.StatusText(),
	})
}

func (c *Controller) lessonLoop(stop <-chan struct{}) {
	boot1 := time.NewTimer(bootstrapFirstDelay)
	boot2 := time.NewTimer(bootstrapSecondDelay)
	checkIn := time.NewTicker(c.cfg.CheckInInterval)
	duration := time.NewTicker(time.Second)
	defer boot1.Stop()
	defer boot2.Stop()
	defer checkIn.Stop()
	defer duration.Stop()

	for {
		select {
		case <-stop:
			return
		case <-boot1.C:
			c.sendBootstrap(bootstrapGreeting)
		case <-boot2.C:
			c.sendBootstrap(bootstrapKeyboardAsk)
		case <-checkIn.C:
			c.maybeCheckIn()
		case <-duration.C:
			c.tickDuration()
		}
	}
}

func (c *Controller) sendBootstrap(text string) {
	if err := c.deps.Upstream.SendUserTurn(protocol.Part{Text: text}); err != nil {
		log.Printf("controller: bootstrap turn not sent: %v", err)
		return
	}
	c.record("user", text)
}

// maybeCheckIn fires at most one verification prompt at a time. While a
// check-in is pending every tick is a no-op; the flag clears when the next
// turn completes or when sending fails.
func (c *Controller) maybeCheckIn() {
	c.mu.Lock()
	if !c.lessonActive || c.pendingCheckIn {
		c.mu.Unlock()
		return
	}
	stage := c.tracker.Stage()
	prompt, ok := lesson.CheckInPrompt(stage)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.pendingCheckIn = true
	c.pendingStage = stage
	c.pendingSince = time.Now()
	c.mu.Unlock()

	go c.sendCheckIn(stage, prompt)
}

func (c *Controller) sendCheckIn(stage lesson.Stage, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	parts := []protocol.Part{{Text: prompt}}
	frame, err := c.deps.Scheduler.CaptureOneFrame(ctx)
	if err != nil {
		log.Printf("controller: check-in frame unavailable for stage %s: %v", stage, err)
	} else {
		// Let exposure settle on the fresh frame before asking about it.
		time.Sleep(c.cfg.SettleDelay)
		blob := protocol.NewBlob(frame.MIMEType, frame.Data)
		parts = append(parts, protocol.Part{InlineData: &blob})
	}

	if err := c.deps.Upstream.SendUserTurn(parts...); err != nil {
		log.Printf("controller: check-in for stage %s not sent: %v", stage, err)
		c.mu.Lock()
		c.pendingCheckIn = false
		c.mu.Unlock()
	}
}

func (c *Controller) tickDuration() {
	c.mu.Lock()
	if !c.lessonActive {
		c.mu.Unlock()
		return
	}
	c.durationSeconds++
	secs := c.durationSeconds
	c.mu.Unlock()
	c.subs.publish(Notification{Type: NotifyDuration, Seconds: secs})
}

func (c *Controller) record(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lessonActive {
		return
	}
	c.entries = append(c.entries, transcript.Entry{
		SessionID: c.cfg.SessionID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}
