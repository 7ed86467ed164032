package transcript

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRedactPII(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		changed bool
	}{
		{
			name:    "email",
			input:   "write me at student@example.com after class",
			want:    "write me at [REDACTED_EMAIL] after class",
			changed: true,
		},
		{
			name:    "phone",
			input:   "call +1 (415) 555-0134 tomorrow",
			want:    "call [REDACTED_PHONE] tomorrow",
			changed: true,
		},
		{
			name:    "card before phone",
			input:   "card 4111 1111 1111 1111 on file",
			want:    "card [REDACTED_CARD] on file",
			changed: true,
		},
		{
			name:    "clean text untouched",
			input:   "Your C major scale is getting smoother.",
			want:    "Your C major scale is getting smoother.",
			changed: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := RedactPII(tt.input)
			if got != tt.want || changed != tt.changed {
				t.Fatalf("RedactPII(%q) = (%q, %v), want (%q, %v)", tt.input, got, changed, tt.want, tt.changed)
			}
		})
	}
}

func TestRedactEntriesMarksChanged(t *testing.T) {
	entries := []Entry{
		{Role: "user", Text: "my email is kid@example.com"},
		{Role: "assistant", Text: "Great posture today."},
	}
	out := RedactEntries(entries)
	if !out[0].PIIRedacted || strings.Contains(out[0].Text, "example.com") {
		t.Fatalf("first entry not redacted: %+v", out[0])
	}
	if out[1].PIIRedacted || out[1].Text != "Great posture today." {
		t.Fatalf("clean entry must pass through: %+v", out[1])
	}
	if entries[0].Text == out[0].Text {
		t.Fatalf("RedactEntries should not alias the input slice text")
	}
}

func TestInMemorySinkRoundTrip(t *testing.T) {
	sink := NewInMemorySink()
	ctx := context.Background()
	batch := []Entry{
		{Role: "user", Text: "hello", Timestamp: time.Now()},
		{Role: "assistant", Text: "welcome back", Timestamp: time.Now()},
	}
	if err := sink.UploadBatch(ctx, "lesson-1", batch); err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}

	got, err := sink.Recent(ctx, "lesson-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "lesson-1" || got[0].ID == "" {
		t.Fatalf("entry not normalized: %+v", got[0])
	}

	if got, _ := sink.Recent(ctx, "other", 10); got != nil {
		t.Fatalf("unknown session should return nil, got %v", got)
	}
}
