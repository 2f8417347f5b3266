// internal/adapter/adapter.go

// Package adapter hosts the process drivers that produce session events.
// Drivers push output into the replay coordinator and report lifecycle
// changes to the session registry; they never touch sequence numbers or
// status validation themselves.
package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/sessionhub/internal/types"
)

// Driver runs the backing process for one session kind.
type Driver interface {
	// Start launches the backing process for sess and returns once it is
	// producing events. The driver owns the running -> stopped/error
	// status reporting for the session from this point on.
	Start(ctx context.Context, sess *types.Session) error
	// Input feeds client bytes to the running process.
	Input(sessionID types.SessionID, data []byte) error
	// Resize adjusts the process's terminal size, where that applies.
	Resize(sessionID types.SessionID, cols, rows uint16) error
	// Stop terminates the backing process. Stopping an unknown or
	// already-stopped session is a no-op.
	Stop(sessionID types.SessionID) error
}

// Registry routes sessions to the driver registered for their kind.
type Registry struct {
	mu      sync.RWMutex
	drivers map[types.SessionKind]Driver
}

func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[types.SessionKind]Driver),
	}
}

// Register adds a driver for the given session kind.
func (r *Registry) Register(kind types.SessionKind, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[kind] = d
}

// For returns the driver for kind, or an error if none is registered.
func (r *Registry) For(kind types.SessionKind) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("no driver registered for session kind %q", kind)
	}
	return d, nil
}

// Kinds lists the registered session kinds.
func (r *Registry) Kinds() []types.SessionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.SessionKind, 0, len(r.drivers))
	for k := range r.drivers {
		kinds = append(kinds, k)
	}
	return kinds
}
