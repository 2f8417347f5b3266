// internal/types/models.go
package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SessionKind names the process family backing a session. The core never
// interprets it beyond routing to the matching adapter.
type SessionKind string

const (
	KindPTY        SessionKind = "pty"
	KindAssistant  SessionKind = "assistant"
	KindFileEditor SessionKind = "file-editor"
)

// SessionStatus is the lifecycle state of a session. Transitions are
// validated by the registry; stopped and error are terminal.
type SessionStatus string

const (
	StatusStarting SessionStatus = "starting"
	StatusRunning  SessionStatus = "running"
	StatusStopped  SessionStatus = "stopped"
	StatusError    SessionStatus = "error"
)

// statusTransitions is the full legal transition table. A status absent
// from the map is terminal.
var statusTransitions = map[SessionStatus][]SessionStatus{
	StatusStarting: {StatusRunning, StatusStopped, StatusError},
	StatusRunning:  {StatusStopped, StatusError},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a status change violates the
// session state machine.
type InvalidTransitionError struct {
	SessionID SessionID
	From      SessionStatus
	To        SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid status transition %s -> %s", e.SessionID, e.From, e.To)
}

type Session struct {
	ID        SessionID       `json:"id"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Kind      SessionKind     `json:"kind"`
	Status    SessionStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// EventType tags how an event's payload is to be decoded.
type EventType string

const (
	EventChunk      EventType = "chunk"      // raw output bytes
	EventText       EventType = "text"       // UTF-8 text
	EventStructured EventType = "structured" // JSON value
	EventOpen       EventType = "open"       // channel opened
	EventClose      EventType = "close"      // channel closed
)

// Event is one immutable record on a session's timeline. Seq is the sole
// ordering key; At is informational and never used for ordering.
type Event struct {
	SessionID SessionID `json:"session_id"`
	Seq       int64     `json:"seq"`
	Channel   string    `json:"channel"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	At        time.Time `json:"at"`
}

// Payload is a tagged variant: either raw bytes or a structured JSON
// value. Exactly one side is populated. A structured payload that fails
// to decode degrades to its raw bytes instead of erroring, so a producer
// writing garbage on a structured channel never breaks replay.
type Payload struct {
	Bytes      []byte
	Structured json.RawMessage
}

func BytesPayload(b []byte) Payload {
	return Payload{Bytes: b}
}

func TextPayload(s string) Payload {
	return Payload{Bytes: []byte(s)}
}

func StructuredPayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal structured payload: %w", err)
	}
	return Payload{Structured: raw}, nil
}

// Encode returns the canonical stored byte form of the payload.
func (p Payload) Encode() []byte {
	if p.Structured != nil {
		return []byte(p.Structured)
	}
	return p.Bytes
}

// DecodePayload reconstructs a Payload from its stored byte form. For
// structured events the bytes must be valid JSON; anything else falls
// back to raw bytes.
func DecodePayload(typ EventType, raw []byte) Payload {
	if typ == EventStructured && json.Valid(raw) {
		return Payload{Structured: json.RawMessage(raw)}
	}
	return Payload{Bytes: raw}
}

// MarshalJSON emits structured payloads as their JSON value and byte
// payloads as a base64 string, matching the wire format clients see.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Structured != nil {
		return []byte(p.Structured), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(p.Bytes))
}

// UnmarshalJSON is the inverse of MarshalJSON: a JSON string is treated
// as base64 bytes, any other value as a structured payload. A string
// that is not valid base64 is kept as its literal bytes.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if b, err := base64.StdEncoding.DecodeString(s); err == nil {
			p.Bytes = b
		} else {
			p.Bytes = []byte(s)
		}
		p.Structured = nil
		return nil
	}
	p.Structured = append(json.RawMessage(nil), data...)
	p.Bytes = nil
	return nil
}
