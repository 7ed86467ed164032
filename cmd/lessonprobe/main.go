// lessonprobe drives a live pianocoach server the way the browser UI does
// and reports coach response latency. Useful for sizing check-in intervals
// against a real Live backend.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL     string
	studentID   string
	personaID   string
	messages    int
	turnTimeout time.Duration
	verbose     bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
}

var probeUtterances = []string{
	"Reply in one short sentence: can you hear me?",
	"Reply in one short sentence: what stage are we in?",
	"Reply in one short sentence: say something encouraging.",
}

func main() {
	opts := parseFlags()

	sessionID, err := createSession(opts)
	if err != nil {
		fatalf("create session: %v", err)
	}
	fmt.Printf("session %s\n", sessionID)
	defer endSession(opts, sessionID)

	wsURL := "ws" + strings.TrimPrefix(opts.baseURL, "http") + "/v1/lesson/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	var latencies []time.Duration
	for i := 0; i < opts.messages; i++ {
		text := probeUtterances[i%len(probeUtterances)]
		if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": text}); err != nil {
			fatalf("send message: %v", err)
		}
		started := time.Now()
		reply, err := awaitCoachMessage(conn, opts.turnTimeout, opts.verbose)
		if err != nil {
			fatalf("turn %d: %v", i+1, err)
		}
		d := time.Since(started)
		latencies = append(latencies, d)
		fmt.Printf("turn %d  %8s  %q\n", i+1, d.Round(time.Millisecond), truncate(reply, 60))
	}

	report(latencies)
	printServerWindow(opts)
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "pianocoach server base URL")
	flag.StringVar(&opts.studentID, "student", "probe", "student id for the session")
	flag.StringVar(&opts.personaID, "persona", "", "persona id (server default when empty)")
	flag.IntVar(&opts.messages, "turns", 3, "number of user messages to send")
	flag.DurationVar(&opts.turnTimeout, "turn-timeout", 30*time.Second, "max wait per coach reply")
	flag.BoolVar(&opts.verbose, "v", false, "print every websocket event")
	flag.Parse()
	opts.baseURL = strings.TrimRight(opts.baseURL, "/")
	return opts
}

func createSession(opts options) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"student_id": opts.studentID,
		"persona_id": opts.personaID,
	})
	res, err := http.Post(opts.baseURL+"/v1/lesson/session", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	var created createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", err
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("empty session id")
	}
	return created.SessionID, nil
}

func endSession(opts options, id string) {
	res, err := http.Post(opts.baseURL+"/v1/lesson/session/"+id+"/end", "application/json", nil)
	if err == nil {
		res.Body.Close()
	}
}

// awaitCoachMessage drains notifications until a completed coach turn
// arrives. Partials and stage changes are progress, not answers.
func awaitCoachMessage(conn *websocket.Conn, timeout time.Duration, verbose bool) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return "", err
		}
		var msg wsEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return "", fmt.Errorf("waiting for coach reply: %w", err)
		}
		if verbose {
			fmt.Printf("  event %s stage=%s %q\n", msg.Type, msg.Stage, truncate(msg.Text, 50))
		}
		switch msg.Type {
		case "coach_message":
			return msg.Text, nil
		case "error":
			return "", fmt.Errorf("server error: %s", msg.Error)
		}
	}
}

func report(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	fmt.Printf("\nturns=%d  avg=%s  p50=%s  max=%s\n",
		len(sorted),
		(total / time.Duration(len(sorted))).Round(time.Millisecond),
		sorted[len(sorted)/2].Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}

func printServerWindow(opts options) {
	res, err := http.Get(opts.baseURL + "/v1/perf/latency")
	if err != nil {
		return
	}
	defer res.Body.Close()
	var snap map[string]any
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return
	}
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Printf("\nserver check-in window:\n%s\n", out)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
