package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pianocoach/pianocoach/internal/config"
	"github.com/pianocoach/pianocoach/internal/controller"
	"github.com/pianocoach/pianocoach/internal/lesson"
	"github.com/pianocoach/pianocoach/internal/session"
)

type fakeRuntime struct {
	mu         sync.Mutex
	connectErr error
	startErr   error
	connected  bool
	started    bool
	ended      bool
	shutdown   bool
	micSwaps   int
	messages   []string
	notify     chan controller.Notification
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{notify: make(chan controller.Notification, 16)}
}

func (f *fakeRuntime) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeRuntime) StartLesson(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeRuntime) EndLesson() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
}

func (f *fakeRuntime) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeRuntime) SendUserMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeRuntime) SwapMicrophone(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micSwaps++
	return nil
}

func (f *fakeRuntime) Subscribe() (<-chan controller.Notification, func()) {
	return f.notify, func() {}
}

func (f *fakeRuntime) Snapshot() controller.Snapshot {
	return controller.Snapshot{SessionID: "snap", Stage: lesson.StageIdle}
}

func testConfig() config.Config {
	return config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		HandshakeTimeout:         time.Second,
		PersonaID:                "encouraging",
		VoiceID:                  "voice-a",
		AllowAnyOrigin:           true,
	}
}

func newTestServer(t *testing.T, rt *fakeRuntime) (*Server, *httptest.Server) {
	t.Helper()
	sessions := session.NewManager(2 * time.Minute)
	srv := New(testConfig(), sessions, func(*session.Session) (LessonRuntime, error) {
		return rt, nil
	}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"student_id": "kid-1"})
	res, err := http.Post(baseURL+"/v1/lesson/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return id
}

func TestCreateAndEndSession(t *testing.T) {
	rt := newFakeRuntime()
	_, ts := newTestServer(t, rt)

	id := createSession(t, ts.URL)
	rt.mu.Lock()
	connected := rt.connected
	rt.mu.Unlock()
	if !connected {
		t.Fatalf("runtime should be connected after session creation")
	}

	res, err := http.Post(ts.URL+"/v1/lesson/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.ended || !rt.shutdown {
		t.Fatalf("end must stop the runtime: ended=%v shutdown=%v", rt.ended, rt.shutdown)
	}
}

func TestCreateSessionUpstreamFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.connectErr = fmt.Errorf("handshake timed out")
	_, ts := newTestServer(t, rt)

	res, err := http.Post(ts.URL+"/v1/lesson/session", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.shutdown {
		t.Fatalf("failed connect should shut the runtime down")
	}
}

func TestEndUnknownSession(t *testing.T) {
	_, ts := newTestServer(t, newFakeRuntime())
	res, err := http.Post(ts.URL+"/v1/lesson/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSessionSnapshot(t *testing.T) {
	rt := newFakeRuntime()
	_, ts := newTestServer(t, rt)
	id := createSession(t, ts.URL)

	res, err := http.Get(ts.URL + "/v1/lesson/session/" + id)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var snap controller.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionID != "snap" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestHealthAndReady(t *testing.T) {
	_, ts := newTestServer(t, newFakeRuntime())
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}
}

func TestSessionWSCommandsAndNotifications(t *testing.T) {
	rt := newFakeRuntime()
	_, ts := newTestServer(t, rt)
	id := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/lesson/session/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "start_lesson"}); err != nil {
		t.Fatalf("write start_lesson: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": "hello coach"}); err != nil {
		t.Fatalf("write user_message: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "switch_microphone"}); err != nil {
		t.Fatalf("write switch_microphone: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rt.mu.Lock()
		ok := rt.started && len(rt.messages) == 1 && rt.micSwaps == 1
		rt.mu.Unlock()
		if ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rt.mu.Lock()
	if !rt.started || len(rt.messages) != 1 || rt.messages[0] != "hello coach" {
		rt.mu.Unlock()
		t.Fatalf("commands not dispatched")
	}
	if rt.micSwaps != 1 {
		rt.mu.Unlock()
		t.Fatalf("mic swaps = %d, want 1", rt.micSwaps)
	}
	rt.mu.Unlock()

	// A controller notification reaches the browser.
	rt.notify <- controller.Notification{Type: controller.NotifyStageChanged, Stage: lesson.StageTeaching}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got uiOutbound
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if got.Type != string(controller.NotifyStageChanged) || got.Stage != string(lesson.StageTeaching) {
		t.Fatalf("notification = %+v", got)
	}

	// Unknown message types answer with an error instead of closing.
	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if got.Type != "error" || got.Error == "" {
		t.Fatalf("error reply = %+v", got)
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	_, ts := newTestServer(t, newFakeRuntime())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/lesson/session/ws?session_id=missing"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial should fail for unknown session")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", res)
	}
}

func TestParseUIMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"start", `{"type":"start_lesson"}`, false},
		{"end", `{"type":"end_lesson"}`, false},
		{"message", `{"type":"user_message","text":"hi"}`, false},
		{"switch mic", `{"type":"switch_microphone"}`, false},
		{"message without text", `{"type":"user_message"}`, true},
		{"unknown type", `{"type":"selfie"}`, true},
		{"not json", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseUIMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUIMessage(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
