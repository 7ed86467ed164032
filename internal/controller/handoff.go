package controller

import (
	"context"
	"log"
	"time"

	"github.com/pianocoach/pianocoach/internal/audio"
	"github.com/pianocoach/pianocoach/internal/summary"
	"github.com/pianocoach/pianocoach/internal/transcript"
)

const (
	handoffTimeout = 2 * time.Minute
	uploadTimeout  = 30 * time.Second
)

// runHandoff produces the end-of-lesson recap: summary text, then speech.
// The terminal notification fires exactly once, whatever fails along the
// way; a failed summary falls back to canned text with no audio.
func (c *Controller) runHandoff(entries []transcript.Entry, durationSeconds int) {
	ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
	defer cancel()

	terminal := Notification{Type: NotifySummaryProgress, Phase: PhaseComplete}
	defer func() {
		c.subs.publish(terminal)
	}()

	c.subs.publish(Notification{Type: NotifySummaryProgress, Phase: PhaseSelectingInstructor})
	c.subs.publish(Notification{Type: NotifySummaryProgress, Phase: PhaseWritingSummary})

	text := ""
	fallback := false
	if c.deps.Summarizer != nil {
		got, err := c.deps.Summarizer.Summarize(ctx, summary.Request{
			Transcript:      entries,
			DurationSeconds: durationSeconds,
			PersonaPrompt:   c.cfg.PersonaPrompt,
		})
		if err != nil {
			log.Printf("controller: summary generation failed, using fallback: %v", err)
			fallback = true
		} else {
			text = got
		}
	} else {
		fallback = true
	}
	if fallback || text == "" {
		fallback = true
		text = summary.FallbackText(durationSeconds)
	}
	terminal.Text = text
	terminal.Fallback = fallback

	c.subs.publish(Notification{Type: NotifySummaryProgress, Phase: PhasePreparingAudio})
	if fallback || c.deps.Synthesizer == nil {
		return
	}
	speech, err := c.deps.Synthesizer.Synthesize(ctx, text, c.cfg.VoiceID)
	if err != nil {
		log.Printf("controller: speech synthesis failed, recap stays text-only: %v", err)
		return
	}
	terminal.AudioWAV = audio.EncodeWAV(speech.Data, speech.SampleRate)
}

// uploadTranscript ships the redacted lesson transcript to the indexing sink.
func (c *Controller) uploadTranscript(entries []transcript.Entry) {
	if c.deps.Sink == nil || len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	redacted := transcript.RedactEntries(entries)
	if err := c.deps.Sink.UploadBatch(ctx, c.cfg.SessionID, redacted); err != nil {
		log.Printf("controller: transcript upload failed for session %s: %v", c.cfg.SessionID, err)
	}
}
