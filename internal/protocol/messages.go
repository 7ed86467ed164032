package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// The duplex channel carries JSON messages in the Live API's shapes: one
// outbound setup message at handshake, fire-and-forget realtimeInput payloads
// for media, clientContent for text turns, and inbound setupComplete /
// serverContent / error messages.

var ErrUnknownServerMessage = errors.New("unknown server message")

// Part is one piece of a content turn: text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

// Blob carries base64-encoded media with its MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewBlob base64-encodes raw media bytes into a wire blob.
func NewBlob(mimeType string, data []byte) Blob {
	return Blob{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// Content is an ordered list of parts attributed to a role.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// SetupMessage is the one-time handshake payload.
type SetupMessage struct {
	Setup SetupPayload `json:"setup"`
}

type SetupPayload struct {
	Model               string               `json:"model"`
	GenerationConfig    *GenerationConfig    `json:"generationConfig,omitempty"`
	SystemInstruction   *Content             `json:"systemInstruction,omitempty"`
	RealtimeInputConfig *RealtimeInputConfig `json:"realtimeInputConfig,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type RealtimeInputConfig struct {
	TurnCoverage string `json:"turnCoverage,omitempty"`
}

// NewSetupMessage builds the handshake for a model with text responses and
// full-turn media coverage.
func NewSetupMessage(model, systemInstruction string) SetupMessage {
	msg := SetupMessage{
		Setup: SetupPayload{
			Model: model,
			GenerationConfig: &GenerationConfig{
				ResponseModalities: []string{"TEXT"},
			},
			RealtimeInputConfig: &RealtimeInputConfig{
				TurnCoverage: "TURN_INCLUDES_ALL_INPUT",
			},
		},
	}
	if strings.TrimSpace(systemInstruction) != "" {
		msg.Setup.SystemInstruction = &Content{
			Parts: []Part{{Text: systemInstruction}},
		}
	}
	return msg
}

// RealtimeInputMessage carries raw video or audio with no expected reply.
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInputPayload `json:"realtimeInput"`
}

type RealtimeInputPayload struct {
	Video       *Blob  `json:"video,omitempty"`
	MediaChunks []Blob `json:"mediaChunks,omitempty"`
}

// NewVideoFrameMessage wraps one encoded video frame.
func NewVideoFrameMessage(mimeType string, data []byte) RealtimeInputMessage {
	blob := NewBlob(mimeType, data)
	return RealtimeInputMessage{RealtimeInput: RealtimeInputPayload{Video: &blob}}
}

// NewAudioChunkMessage wraps one PCM audio buffer.
func NewAudioChunkMessage(mimeType string, data []byte) RealtimeInputMessage {
	return RealtimeInputMessage{RealtimeInput: RealtimeInputPayload{
		MediaChunks: []Blob{NewBlob(mimeType, data)},
	}}
}

// ClientContentMessage sends a user turn (bootstrap prompt, check-in, or
// typed message), optionally with an attached frame.
type ClientContentMessage struct {
	ClientContent ClientContentPayload `json:"clientContent"`
}

type ClientContentPayload struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// NewUserTurnMessage builds a completed user turn from the given parts.
func NewUserTurnMessage(parts ...Part) ClientContentMessage {
	return ClientContentMessage{ClientContent: ClientContentPayload{
		Turns:        []Content{{Role: "user", Parts: parts}},
		TurnComplete: true,
	}}
}

// ServerEventType identifies parsed inbound message variants.
type ServerEventType string

const (
	ServerSetupComplete ServerEventType = "setup_complete"
	ServerContent       ServerEventType = "server_content"
	ServerError         ServerEventType = "server_error"
)

// ServerEvent is one parsed inbound message.
type ServerEvent struct {
	Type         ServerEventType
	Text         string
	TurnComplete bool
	Message      string
}

type serverMessage struct {
	SetupComplete json.RawMessage `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []Part `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete bool `json:"turnComplete"`
	} `json:"serverContent"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseServerMessage decodes one inbound message into a typed event.
// A malformed message returns an error and must be dropped by the caller
// without tearing down the connection.
func ParseServerMessage(raw []byte) (ServerEvent, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid server message: %w", err)
	}

	switch {
	case len(msg.SetupComplete) > 0 && !bytes.Equal(msg.SetupComplete, []byte("null")):
		return ServerEvent{Type: ServerSetupComplete}, nil
	case msg.Error != nil:
		return ServerEvent{Type: ServerError, Message: msg.Error.Message}, nil
	case msg.ServerContent != nil:
		evt := ServerEvent{
			Type:         ServerContent,
			TurnComplete: msg.ServerContent.TurnComplete,
		}
		if msg.ServerContent.ModelTurn != nil {
			var b strings.Builder
			for _, p := range msg.ServerContent.ModelTurn.Parts {
				b.WriteString(p.Text)
			}
			evt.Text = b.String()
		}
		return evt, nil
	default:
		return ServerEvent{}, ErrUnknownServerMessage
	}
}
