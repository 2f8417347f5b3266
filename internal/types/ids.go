// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type ConnID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// NewConnID identifies one attached transport connection. Attach/detach
// bookkeeping is keyed by this, not by the remote address, so the same
// browser can hold several independent attachments to one session.
func NewConnID() ConnID {
	return ConnID(uuid.New().String())
}
