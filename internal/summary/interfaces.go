package summary

import (
	"context"
	"errors"

	"github.com/pianocoach/pianocoach/internal/transcript"
)

var (
	ErrSummaryGeneration = errors.New("summary generation failed")
	ErrSpeechSynthesis   = errors.New("speech synthesis failed")
)

// Request carries everything the summarizer needs about a finished lesson.
type Request struct {
	Transcript      []transcript.Entry
	DurationSeconds int
	PersonaPrompt   string
}

// Summarizer turns a lesson transcript into a short spoken-style recap.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// Audio is synthesized speech ready for container wrapping.
type Audio struct {
	Data       []byte
	MIMEType   string
	SampleRate int
}

// Synthesizer renders text to speech in a given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}
