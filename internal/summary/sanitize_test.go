package summary

import (
	"strings"
	"testing"
)

func TestSanitizeSpeech(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text untouched",
			input: "You nailed the left-hand part today!",
			want:  "You nailed the left-hand part today!",
		},
		{
			name:  "markdown stripped",
			input: "Try the **C major** scale, see [this](https://example.com/scale).",
			want:  "Try the C major scale, see this.",
		},
		{
			name:  "sharps survive",
			input: "That F# in bar three was spot on.",
			want:  "That F# in bar three was spot on.",
		},
		{
			name:  "code fences removed",
			input: "Remember:\n```\ndo not read this aloud\n```\nkeep your wrists level.",
			want:  "Remember: keep your wrists level.",
		},
		{
			name:  "whitespace collapsed",
			input: "  slow \t down\n\n a little  ",
			want:  "slow down a little",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSpeech(tt.input); got != tt.want {
				t.Fatalf("SanitizeSpeech(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFallbackText(t *testing.T) {
	if got := FallbackText(0); !strings.Contains(got, "Great job") {
		t.Fatalf("zero-duration fallback = %q", got)
	}
	if got := FallbackText(600); !strings.Contains(got, "10 minutes") {
		t.Fatalf("ten-minute fallback = %q", got)
	}
	if got := FallbackText(75); !strings.Contains(got, "minute") {
		t.Fatalf("one-minute fallback = %q", got)
	}
}
