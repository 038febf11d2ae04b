// Package protocol defines the JSON wire envelope shared by clients and the
// collaboration server, and the payloads carried for each message type.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType names the kind of payload an Envelope carries.
type MessageType string

// Client to server.
const (
	TypeJoin MessageType = "join"
	TypeDraw MessageType = "draw"
	TypePing MessageType = "ping"
)

// Server to client. TypeDraw is also relayed server to client.
const (
	TypeCanvasInit    MessageType = "canvas-init"
	TypeCollaborators MessageType = "collaborators"
	TypePong          MessageType = "pong"
)

// Inbound reports whether clients may send messages of this type.
func (t MessageType) Inbound() bool {
	switch t {
	case TypeJoin, TypeDraw, TypePing:
		return true
	}
	return false
}

// Known reports whether t is any message type of the protocol.
func (t MessageType) Known() bool {
	switch t {
	case TypeJoin, TypeDraw, TypePing, TypeCanvasInit, TypeCollaborators, TypePong:
		return true
	}
	return false
}

var (
	// ErrMalformed is returned when a frame is not a JSON envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned when the envelope type is missing or not accepted from clients.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingRoom is returned when join or draw carries no positive artworkId.
	ErrMissingRoom = errors.New("missing artworkId")
	// ErrInvalidStroke is returned when draw data fails validation.
	ErrInvalidStroke = errors.New("invalid stroke")
)

// nullData is the explicit JSON null carried by canvas-init when no snapshot exists.
var nullData = json.RawMessage("null")

// Envelope is the single message shape used in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ArtworkID int64           `json:"artworkId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode parses an inbound frame from a client.
//
// Postcondition: On success the envelope has an inbound type, and join/draw
// envelopes carry a positive ArtworkID. Errors wrap one of ErrMalformed,
// ErrUnknownType, ErrMissingRoom.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: type is required", ErrUnknownType)
	}
	if !env.Type.Inbound() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if (env.Type == TypeJoin || env.Type == TypeDraw) && env.ArtworkID <= 0 {
		return Envelope{}, fmt.Errorf("%w: %s requires a positive artworkId", ErrMissingRoom, env.Type)
	}
	return env, nil
}

// Encode serializes an envelope into a text frame.
//
// Precondition: env.Data, when set, must be valid JSON.
// Postcondition: Returns the JSON bytes or a non-nil error.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Type, err)
	}
	return b, nil
}

// NewEnvelope builds an outbound envelope, marshalling data as the payload.
// A nil data value produces an explicit JSON null payload.
//
// Postcondition: Returns a ready-to-encode Envelope or a non-nil error.
func NewEnvelope(t MessageType, artworkID int64, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: t, ArtworkID: artworkID, Data: nullData}, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		if len(bytes.TrimSpace(raw)) == 0 {
			raw = nullData
		}
		return Envelope{Type: t, ArtworkID: artworkID, Data: raw}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Envelope{Type: t, ArtworkID: artworkID, Data: b}, nil
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullData)
}
