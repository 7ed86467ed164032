package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pianocoach/pianocoach/internal/config"
	"github.com/pianocoach/pianocoach/internal/controller"
	"github.com/pianocoach/pianocoach/internal/observability"
	"github.com/pianocoach/pianocoach/internal/session"
)

// LessonRuntime is one live session controller. Satisfied by
// *controller.Controller.
type LessonRuntime interface {
	Connect(ctx context.Context) error
	StartLesson(ctx context.Context) error
	EndLesson()
	Shutdown()
	SendUserMessage(text string) error
	SwapMicrophone(ctx context.Context) error
	Subscribe() (<-chan controller.Notification, func())
	Snapshot() controller.Snapshot
}

// RuntimeFactory builds the controller stack for a freshly created session.
type RuntimeFactory func(sess *session.Session) (LessonRuntime, error)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	factory  RuntimeFactory
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	runtimes map[string]LessonRuntime
}

func New(cfg config.Config, sessions *session.Manager, factory RuntimeFactory, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		factory:  factory,
		metrics:  metrics,
		runtimes: make(map[string]LessonRuntime),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin only by default so another website cannot drive
				// the student's camera session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/lesson/session", s.handleCreateSession)
	r.Post("/v1/lesson/session/{id}/end", s.handleEndSession)
	r.Get("/v1/lesson/session/{id}", s.handleSessionSnapshot)
	r.Get("/v1/lesson/session/ws", s.handleSessionWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type createSessionRequest struct {
	StudentID string `json:"student_id"`
	PersonaID string `json:"persona_id"`
	VoiceID   string `json:"voice_id"`
}

type createSessionResponse struct {
	SessionID       string         `json:"session_id"`
	StudentID       string         `json:"student_id"`
	Status          session.Status `json:"status"`
	PersonaID       string         `json:"persona_id"`
	VoiceID         string         `json:"voice_id"`
	StartedAt       time.Time      `json:"started_at"`
	InactivityTTLMS int64          `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.StudentID) == "" {
		req.StudentID = "anonymous"
	}
	if strings.TrimSpace(req.PersonaID) == "" {
		req.PersonaID = s.cfg.PersonaID
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		req.VoiceID = s.cfg.VoiceID
	}

	sess := s.sessions.Create(req.StudentID, req.PersonaID, req.VoiceID)

	runtime, err := s.factory(sess)
	if err != nil {
		_, _ = s.sessions.End(sess.ID)
		respondError(w, http.StatusInternalServerError, "runtime_unavailable", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HandshakeTimeout+5*time.Second)
	defer cancel()
	if err := runtime.Connect(ctx); err != nil {
		runtime.Shutdown()
		_, _ = s.sessions.End(sess.ID)
		respondError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
		return
	}

	s.mu.Lock()
	s.runtimes[sess.ID] = runtime
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		StudentID:       sess.StudentID,
		Status:          sess.Status,
		PersonaID:       sess.PersonaID,
		VoiceID:         sess.VoiceID,
		StartedAt:       sess.StartedAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.ShutdownSession(id)
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runtime, ok := s.runtime(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no runtime for session")
		return
	}
	respondJSON(w, http.StatusOK, runtime.Snapshot())
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

// ShutdownSession tears down the runtime of an ended or expired session.
// Safe to call for unknown ids.
func (s *Server) ShutdownSession(id string) {
	s.mu.Lock()
	runtime, ok := s.runtimes[id]
	delete(s.runtimes, id)
	s.mu.Unlock()
	if ok {
		runtime.EndLesson()
		runtime.Shutdown()
	}
}

// ShutdownAll tears down every live runtime. Used on process shutdown.
func (s *Server) ShutdownAll() {
	s.mu.Lock()
	runtimes := make([]LessonRuntime, 0, len(s.runtimes))
	for id, rt := range s.runtimes {
		runtimes = append(runtimes, rt)
		delete(s.runtimes, id)
	}
	s.mu.Unlock()
	for _, rt := range runtimes {
		rt.EndLesson()
		rt.Shutdown()
	}
}

func (s *Server) runtime(id string) (LessonRuntime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[id]
	return rt, ok
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
