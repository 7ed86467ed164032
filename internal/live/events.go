package live

import "github.com/pianocoach/pianocoach/internal/reliability"

// EventType identifies inbound events delivered to the session controller.
type EventType string

const (
	// EventPartialText carries one streamed response fragment.
	EventPartialText EventType = "partial_text"
	// EventTurnComplete marks the end of the current assistant turn.
	EventTurnComplete EventType = "turn_complete"
	// EventServerError carries a structured backend error received after
	// the handshake completed.
	EventServerError EventType = "server_error"
	// EventClosed is the final event on any connection; the event channel
	// is closed immediately after it.
	EventClosed EventType = "closed"
)

// Event is one inbound occurrence on the live connection.
type Event struct {
	Type    EventType
	Text    string
	Message string
	Class   reliability.CloseClass
	Local   bool
}
