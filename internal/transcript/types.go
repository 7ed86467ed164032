package transcript

import (
	"context"
	"time"
)

// Entry is one line of lesson conversation, user or coach.
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	PIIRedacted bool      `json:"pii_redacted"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives the full transcript of a finished lesson in one batch.
type Sink interface {
	UploadBatch(ctx context.Context, sessionID string, entries []Entry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}
