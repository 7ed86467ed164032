package controller

import (
	"sync"

	"github.com/pianocoach/pianocoach/internal/lesson"
	"github.com/pianocoach/pianocoach/internal/notedetect"
)

type NotificationType string

const (
	NotifyCoachPartial    NotificationType = "coach_partial"
	NotifyCoachMessage    NotificationType = "coach_message"
	NotifyStageChanged    NotificationType = "stage_changed"
	NotifyConnectionState NotificationType = "connection_state"
	NotifyLessonStarted   NotificationType = "lesson_started"
	NotifyLessonEnded     NotificationType = "lesson_ended"
	NotifySummaryProgress NotificationType = "summary_progress"
	NotifyNoteDetected    NotificationType = "note_detected"
	NotifyDuration        NotificationType = "duration"
	NotifyError           NotificationType = "error"
)

// Summary handoff phases, in emission order.
const (
	PhaseSelectingInstructor = "selecting_instructor"
	PhaseWritingSummary      = "writing_summary"
	PhasePreparingAudio      = "preparing_audio"
	PhaseComplete            = "complete"
)

// Notification is one UI-facing event. AudioWAV is populated only on the
// terminal summary notification and never serialized directly.
type Notification struct {
	Type     NotificationType          `json:"type"`
	Text     string                    `json:"text,omitempty"`
	Stage    lesson.Stage              `json:"stage,omitempty"`
	State    string                    `json:"state,omitempty"`
	Phase    string                    `json:"phase,omitempty"`
	Seconds  int                       `json:"seconds,omitempty"`
	Fallback bool                      `json:"fallback,omitempty"`
	Note     *notedetect.DetectedEvent `json:"note,omitempty"`
	AudioWAV []byte                    `json:"-"`
}

const subscriberQueueSize = 64

type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Notification
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan Notification)}
}

// add registers one subscriber. The cancel func is idempotent and closes the
// channel.
func (s *subscribers) add() (<-chan Notification, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	ch := make(chan Notification, subscriberQueueSize)
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish fans out without blocking; a slow subscriber loses notifications
// rather than stalling the event loop.
func (s *subscribers) publish(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
