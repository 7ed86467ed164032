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
	defaultGenerateBaseURL = "https://generativelanguage.googleapis.com"
	defaultSummaryModel    = "gemini-2.0-flash"
	maxSummaryAttempts     = 3
	summaryBackoffBase     = 500 * time.Millisecond
	summaryBackoffCap      = 4 * time.Second
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiSummarizer asks the generateContent endpoint for a lesson recap.
type GeminiSummarizer struct {
	cfg    GeminiConfig
	client *http.Client
}

func NewGeminiSummarizer(cfg GeminiConfig) *GeminiSummarizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultGenerateBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultSummaryModel
	}
	return &GeminiSummarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents          []generateContent `json:"contents"`
	SystemInstruction *generateContent  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, req Request) (string, error) {
	body := generateRequest{
		Contents: []generateContent{{
			Role:  "user",
			Parts: []generatePart{{Text: summaryPrompt(req)}},
		}},
	}
	if strings.TrimSpace(req.PersonaPrompt) != "" {
		body.SystemInstruction = &generateContent{Parts: []generatePart{{Text: req.PersonaPrompt}}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode summary request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Model, s.cfg.APIKey)

	var lastErr error
	for attempt := 0; attempt < maxSummaryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, summaryBackoffBase, summaryBackoffCap)):
			}
		}
		text, retryable, err := s.attempt(ctx, endpoint, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrSummaryGeneration, lastErr)
}

func (s *GeminiSummarizer) attempt(ctx context.Context, endpoint string, payload []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("generateContent status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("decode generateContent response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("generateContent error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", false, fmt.Errorf("generateContent returned no candidates")
	}

	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", false, fmt.Errorf("generateContent returned empty text")
	}
	return text, false, nil
}

func summaryPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this %d-minute piano lesson for the student in 2-3 warm sentences. ", req.DurationSeconds/60)
	b.WriteString("Mention what was practiced and one encouragement. Plain spoken text only.\n\nTranscript:\n")
	for _, e := range req.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Text)
	}
	return b.String()
}
