package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemorySink keeps transcripts in process memory for local/dev use.
type InMemorySink struct {
	mu      sync.RWMutex
	records map[string][]Entry
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{records: make(map[string][]Entry)}
}

func (s *InMemorySink) UploadBatch(_ context.Context, sessionID string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		e.SessionID = sessionID
		s.records[sessionID] = append(s.records[sessionID], e)
	}
	return nil
}

func (s *InMemorySink) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Entry, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemorySink) Close() error { return nil }
