// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
)

type SessionRegistry interface {
	Create(ctx context.Context, kind SessionKind, ownerID string, metadata json.RawMessage) (*Session, error)
	Get(ctx context.Context, id SessionID) (*Session, error)
	// List returns sessions ordered by UpdatedAt descending. An empty kind
	// matches all kinds.
	List(ctx context.Context, kind SessionKind) ([]*Session, error)
	SetStatus(ctx context.Context, id SessionID, status SessionStatus) error
	// MarkAllRunningStopped forces every running session to stopped and
	// returns how many rows changed. Invoked once at daemon start: the
	// processes backing those sessions did not survive the restart.
	MarkAllRunningStopped(ctx context.Context) (int64, error)
}

type EventStore interface {
	Append(ctx context.Context, sessionID SessionID, channel string, typ EventType, payload Payload) (*Event, error)
	// Since returns all events with seq > afterSeq in ascending order.
	// Unknown sessions and afterSeq beyond the current maximum both yield
	// an empty slice, not an error.
	Since(ctx context.Context, sessionID SessionID, afterSeq int64) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}
