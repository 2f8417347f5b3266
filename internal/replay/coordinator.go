// internal/replay/coordinator.go

// Package replay bridges the durable event log to live connections: each
// attachment receives the backlog since its watermark, then every
// subsequent append, in seq order with no gap or duplicate across the
// transition.
package replay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/user/sessionhub/internal/types"
)

// Sink receives events for one attached connection. Deliver must not
// block for long; transport sinks buffer internally and return an error
// when the connection is gone or hopelessly behind, which detaches them.
type Sink interface {
	Deliver(ev *types.Event) error
}

// Coordinator is the fan-out hub. All appends for coordinated sessions
// flow through it so live delivery happens in append order. State is
// reconstructed entirely from the store on attach, so a coordinator
// restart loses nothing.
type Coordinator struct {
	events types.EventStore

	mu      sync.Mutex
	streams map[types.SessionID]*stream
}

// stream is the per-session subscriber set. Its lock is held across both
// backlog delivery in Attach and fan-out in Append: an event is either
// in the backlog a connection reads or fanned out after it registers,
// never both and never neither.
type stream struct {
	mu   sync.Mutex
	subs map[types.ConnID]Sink
}

func NewCoordinator(events types.EventStore) *Coordinator {
	return &Coordinator{
		events:  events,
		streams: make(map[types.SessionID]*stream),
	}
}

func (c *Coordinator) stream(id types.SessionID) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[id]
	if !ok {
		st = &stream{subs: make(map[types.ConnID]Sink)}
		c.streams[id] = st
	}
	return st
}

// Attach registers sink for live delivery and returns the backlog after
// lastSeq as one ordered batch. Both happen under the stream lock, so
// every event is either in the returned backlog or delivered live later,
// never both, never neither. The caller must hand the backlog to the
// client before draining the sink; sinks buffer live deliveries in the
// meantime.
//
// An unknown session yields an empty backlog and a live registration, so
// a session created moments later is still observed; the
// attach-before-create race is routine, not an error. Attaching an
// already-attached connID replaces its registration, so a double attach
// never causes double delivery.
func (c *Coordinator) Attach(ctx context.Context, sessionID types.SessionID, connID types.ConnID, lastSeq int64, sink Sink) ([]*types.Event, error) {
	st := c.stream(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	backlog, err := c.events.Since(ctx, sessionID, lastSeq)
	if err != nil {
		return nil, err
	}
	st.subs[connID] = sink
	return backlog, nil
}

// Detach unregisters the connection. Detaching an unattached connection
// is a no-op; the session and its events are untouched either way.
func (c *Coordinator) Detach(sessionID types.SessionID, connID types.ConnID) {
	c.mu.Lock()
	st, ok := c.streams[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	delete(st.subs, connID)
	st.mu.Unlock()
}

// Append persists one event and fans it out to every attached connection
// for the session. The stream lock is taken before the store write, so
// appends to the same session fan out in seq order. A sink that fails
// delivery is detached on the spot.
func (c *Coordinator) Append(ctx context.Context, sessionID types.SessionID, channel string, typ types.EventType, payload types.Payload) (*types.Event, error) {
	st := c.stream(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	ev, err := c.events.Append(ctx, sessionID, channel, typ, payload)
	if err != nil {
		return nil, err
	}

	for connID, sink := range st.subs {
		if err := sink.Deliver(ev); err != nil {
			slog.Warn("dropping attached connection", "session_id", sessionID, "conn_id", connID, "error", err)
			delete(st.subs, connID)
		}
	}
	return ev, nil
}

// Attached reports how many connections are registered for the session.
func (c *Coordinator) Attached(sessionID types.SessionID) int {
	c.mu.Lock()
	st, ok := c.streams[sessionID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}
