package lesson

import (
	"hash/fnv"
	"sync"
)

// Outcome describes how one completed assistant turn affected the lesson.
type Outcome struct {
	Display    string
	Stage      Stage
	Changed    bool
	Suppressed bool
}

// Tracker owns the current lesson stage and the duplicate-suppression
// fingerprint. All methods are safe for concurrent use; the controller reads
// the stage from timer callbacks while turns apply on the event loop.
type Tracker struct {
	mu              sync.Mutex
	stage           Stage
	lastFingerprint uint64
	hasFingerprint  bool
}

func NewTracker() *Tracker {
	return &Tracker{stage: StageIdle}
}

// Stage returns the current stage snapshot.
func (t *Tracker) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// SetStage forces the stage, bypassing tag extraction. Used by the session
// lifecycle for start (checking_keyboard) and stop (idle).
func (t *Tracker) SetStage(s Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = s
}

// Reset returns the tracker to its initial state for a fresh lesson.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = StageIdle
	t.lastFingerprint = 0
	t.hasFingerprint = false
}

// Apply evaluates one completed assistant turn: extracts the status tag,
// applies the transition rule, and decides whether the turn should be
// suppressed as an exact repeat. A turn is suppressed only when its
// normalized display text matches the single retained fingerprint AND the
// stage did not change. The fingerprint always tracks the most recently
// displayed message, not a history.
func (t *Tracker) Apply(raw string) Outcome {
	display, candidate, found := ExtractStatus(raw)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !found {
		candidate = t.stage
	}
	changed := candidate != t.stage
	if changed {
		t.stage = candidate
	}

	fp := Fingerprint(display)
	if !changed && t.hasFingerprint && fp == t.lastFingerprint {
		return Outcome{Display: display, Stage: t.stage, Changed: false, Suppressed: true}
	}
	t.lastFingerprint = fp
	t.hasFingerprint = true

	return Outcome{Display: display, Stage: t.stage, Changed: changed}
}

// Fingerprint hashes tag-stripped, whitespace-normalized display text.
func Fingerprint(display string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(NormalizeText(display)))
	return h.Sum64()
}
