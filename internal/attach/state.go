// internal/attach/state.go

// Package attach holds the consumer-side attachment state machine. It
// turns the raw event stream into the coarse states a client surface
// cares about, independent of any transport.
package attach

import (
	"sync"
	"time"
)

type State string

const (
	StateIdle               State = "idle"
	StateCatchingUp         State = "catchingUp"
	StateWaitingForResponse State = "waitingForResponse"
	StateError              State = "error"
)

// DefaultCatchupTimeout bounds how long a reconnect shows catchingUp
// when the session is simply idle and no backlog arrives. Tuning value,
// not an invariant.
const DefaultCatchupTimeout = 2 * time.Second

// Tracker is the per-attachment state machine. The catch-up timeout is
// its only timer, and it is purely a client-side heuristic: it never
// cancels or discards anything server-side.
type Tracker struct {
	mu       sync.Mutex
	state    State
	timeout  time.Duration
	timer    *time.Timer
	onChange func(State)
}

// NewTracker creates a Tracker in the idle state. timeout <= 0 selects
// DefaultCatchupTimeout. onChange, if non-nil, is invoked on its own
// goroutine for every state change.
func NewTracker(timeout time.Duration, onChange func(State)) *Tracker {
	if timeout <= 0 {
		timeout = DefaultCatchupTimeout
	}
	return &Tracker{
		state:    StateIdle,
		timeout:  timeout,
		onChange: onChange,
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// set transitions to next and fires onChange. Caller holds t.mu.
func (t *Tracker) set(next State) {
	if t.state == next {
		return
	}
	t.state = next
	if t.onChange != nil {
		cb := t.onChange
		go cb(next)
	}
}

func (t *Tracker) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// OnAttach records a (re)connection. Resuming a previously known session
// enters catchingUp until the first event arrives or the timeout fires,
// whichever comes first; a fresh attach goes straight to idle.
func (t *Tracker) OnAttach(shouldResume bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	if !shouldResume {
		t.set(StateIdle)
		return
	}
	t.set(StateCatchingUp)
	t.timer = time.AfterFunc(t.timeout, t.catchupExpired)
}

func (t *Tracker) catchupExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCatchingUp {
		t.set(StateIdle)
	}
	t.timer = nil
}

// OnEvent records one delivered event. The first event clears catchingUp
// and any pending response indicator.
func (t *Tracker) OnEvent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateCatchingUp, StateWaitingForResponse:
		t.stopTimer()
		t.set(StateIdle)
	}
}

// OnSend records that the client sent input and is awaiting a response.
func (t *Tracker) OnSend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateError {
		return
	}
	t.stopTimer()
	t.set(StateWaitingForResponse)
}

// OnError records a transport-level failure. In-flight indicators must
// not survive a lost connection, so this always lands in error state.
func (t *Tracker) OnError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.set(StateError)
}

// OnDetach records a deliberate disconnect: indicators clear to idle.
func (t *Tracker) OnDetach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.set(StateIdle)
}
