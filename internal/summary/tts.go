package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pianocoach/pianocoach/internal/reliability"
)

const (
	defaultTTSBaseURL    = "https://api.elevenlabs.io"
	defaultTTSModelID    = "eleven_multilingual_v2"
	ttsOutputFormat      = "pcm_24000"
	ttsOutputSampleRate  = 24000
	maxSynthesisAttempts = 3
	synthesisBackoffBase = 500 * time.Millisecond
	synthesisBackoffCap  = 4 * time.Second
)

type TTSConfig struct {
	APIKey  string
	BaseURL string
	ModelID string
}

// HTTPSynthesizer renders the recap with the ElevenLabs text-to-speech API.
// Raw PCM output; the caller wraps it in a WAV container.
type HTTPSynthesizer struct {
	cfg    TTSConfig
	client *http.Client
}

func NewHTTPSynthesizer(cfg TTSConfig) *HTTPSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultTTSBaseURL
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultTTSModelID
	}
	return &HTTPSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Audio, error) {
	if strings.TrimSpace(voiceID) == "" {
		return Audio{}, fmt.Errorf("%w: voice_id is required", ErrSpeechSynthesis)
	}
	spoken := SanitizeSpeech(text)
	if spoken == "" {
		return Audio{}, fmt.Errorf("%w: nothing to speak", ErrSpeechSynthesis)
	}

	payload, err := json.Marshal(map[string]any{
		"text":     spoken,
		"model_id": s.cfg.ModelID,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), voiceID, ttsOutputFormat)

	var lastErr error
	for attempt := 0; attempt < maxSynthesisAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Audio{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, synthesisBackoffBase, synthesisBackoffCap)):
			}
		}
		audio, retryable, err := s.attempt(ctx, endpoint, payload)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Audio{}, fmt.Errorf("%w: %v", ErrSpeechSynthesis, lastErr)
}

func (s *HTTPSynthesizer) attempt(ctx context.Context, endpoint string, payload []byte) (Audio, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Audio{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Audio{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("text-to-speech status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, true, err
	}
	if len(data) == 0 {
		return Audio{}, false, fmt.Errorf("text-to-speech returned no audio")
	}
	return Audio{Data: data, MIMEType: "audio/pcm", SampleRate: ttsOutputSampleRate}, false, nil
}
