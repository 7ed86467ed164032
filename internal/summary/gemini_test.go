package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pianocoach/pianocoach/internal/transcript"
)

func TestGeminiSummarizerHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("unexpected contents: %+v", req.Contents)
		}
		if req.SystemInstruction == nil {
			t.Errorf("persona prompt should travel as systemInstruction")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": "You practiced scales. Nice work!"}}},
			}},
		})
	}))
	defer srv.Close()

	s := NewGeminiSummarizer(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := s.Summarize(context.Background(), Request{
		Transcript:      []transcript.Entry{{Role: "assistant", Text: "Let's do scales."}},
		DurationSeconds: 300,
		PersonaPrompt:   "You are a kind piano teacher.",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "You practiced scales. Nice work!" {
		t.Fatalf("summary = %q", got)
	}
}

func TestGeminiSummarizerRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewGeminiSummarizer(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := s.Summarize(context.Background(), Request{DurationSeconds: 60})
	if !errors.Is(err, ErrSummaryGeneration) {
		t.Fatalf("err = %v, want ErrSummaryGeneration", err)
	}
	if got := calls.Load(); got != maxSummaryAttempts {
		t.Fatalf("calls = %d, want %d", got, maxSummaryAttempts)
	}
}

func TestGeminiSummarizerNoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewGeminiSummarizer(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := s.Summarize(context.Background(), Request{}); !errors.Is(err, ErrSummaryGeneration) {
		t.Fatalf("err = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("bad request must not be retried, calls = %d", got)
	}
}

func TestHTTPSynthesizerReturnsPCM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("output_format") != ttsOutputFormat {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	s := NewHTTPSynthesizer(TTSConfig{APIKey: "secret", BaseURL: srv.URL})
	audio, err := s.Synthesize(context.Background(), "Well done today!", "voice-1")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio.Data) != 4 || audio.SampleRate != ttsOutputSampleRate {
		t.Fatalf("audio = %+v", audio)
	}
}

func TestHTTPSynthesizerRequiresVoice(t *testing.T) {
	s := NewHTTPSynthesizer(TTSConfig{APIKey: "secret"})
	if _, err := s.Synthesize(context.Background(), "hello", ""); !errors.Is(err, ErrSpeechSynthesis) {
		t.Fatalf("err = %v, want ErrSpeechSynthesis", err)
	}
}
