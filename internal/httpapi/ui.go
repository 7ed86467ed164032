package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pianocoach/pianocoach/internal/controller"
	"github.com/pianocoach/pianocoach/internal/notedetect"
)

// uiInbound is a command from the browser to the session controller.
type uiInbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	uiStartLesson = "start_lesson"
	uiEndLesson   = "end_lesson"
	uiUserMessage = "user_message"
	uiSwitchMic   = "switch_microphone"
)

func parseUIMessage(data []byte) (uiInbound, error) {
	var msg uiInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return uiInbound{}, fmt.Errorf("invalid ui message: %w", err)
	}
	switch msg.Type {
	case uiStartLesson, uiEndLesson, uiSwitchMic:
		return msg, nil
	case uiUserMessage:
		if strings.TrimSpace(msg.Text) == "" {
			return uiInbound{}, fmt.Errorf("user_message requires text")
		}
		return msg, nil
	default:
		return uiInbound{}, fmt.Errorf("unknown ui message type %q", msg.Type)
	}
}

// uiOutbound is one notification serialized for the browser. Recap audio
// travels base64-encoded on the terminal summary message.
type uiOutbound struct {
	Type     string                    `json:"type"`
	Text     string                    `json:"text,omitempty"`
	Stage    string                    `json:"stage,omitempty"`
	State    string                    `json:"state,omitempty"`
	Phase    string                    `json:"phase,omitempty"`
	Seconds  int                       `json:"seconds,omitempty"`
	Fallback bool                      `json:"fallback,omitempty"`
	Note     *notedetect.DetectedEvent `json:"note,omitempty"`
	AudioWAV string                    `json:"audio_wav,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

func outboundFromNotification(n controller.Notification) uiOutbound {
	out := uiOutbound{
		Type:     string(n.Type),
		Text:     n.Text,
		Stage:    string(n.Stage),
		State:    n.State,
		Phase:    n.Phase,
		Seconds:  n.Seconds,
		Fallback: n.Fallback,
		Note:     n.Note,
	}
	if len(n.AudioWAV) > 0 {
		out.AudioWAV = base64.StdEncoding.EncodeToString(n.AudioWAV)
	}
	return out
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	runtime, ok := s.runtime(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no runtime for session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notifications, unsubscribe := runtime.Subscribe()
	defer unsubscribe()

	// All websocket writes funnel through one queue: the notification
	// forwarder and the read loop both enqueue, one writer drains.
	outbound := make(chan uiOutbound, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					return
				}
				select {
				case outbound <- outboundFromNotification(n):
				default:
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := parseUIMessage(data)
		if err != nil {
			enqueue(outbound, uiOutbound{Type: "error", Error: err.Error()})
			continue
		}
		_ = s.sessions.Touch(sessionID)
		s.dispatch(ctx, runtime, msg, outbound)
	}

	cancel()
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) dispatch(ctx context.Context, runtime LessonRuntime, msg uiInbound, outbound chan<- uiOutbound) {
	var err error
	switch msg.Type {
	case uiStartLesson:
		err = runtime.StartLesson(ctx)
	case uiEndLesson:
		runtime.EndLesson()
	case uiUserMessage:
		err = runtime.SendUserMessage(msg.Text)
	case uiSwitchMic:
		err = runtime.SwapMicrophone(ctx)
	}
	if err != nil {
		enqueue(outbound, uiOutbound{Type: "error", Error: err.Error()})
	}
}

func enqueue(outbound chan<- uiOutbound, msg uiOutbound) {
	select {
	case outbound <- msg:
	default:
	}
}
