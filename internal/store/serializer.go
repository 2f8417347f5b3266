// internal/store/serializer.go
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrSerializerClosed is returned by Enqueue after Close.
var ErrSerializerClosed = errors.New("store: write serializer closed")

// Op is one mutating operation against the store.
type Op func(ctx context.Context) error

type job struct {
	ctx  context.Context
	op   Op
	done chan error
}

// Serializer funnels every mutating statement through a single FIFO lane
// so the embedded store never sees two concurrent writers. SQLite in WAL
// mode allows many readers but exactly one writer; this is the
// application-level enforcement of that constraint, so writes queue here
// instead of failing with lock contention inside the driver.
//
// Ops run strictly in enqueue order. A failing op reports its error to
// its own caller only; the lane itself stays live and later ops run
// normally.
type Serializer struct {
	mu     sync.Mutex
	jobs   chan *job
	closed bool
	wg     sync.WaitGroup
}

// NewSerializer creates the write lane and starts its worker goroutine.
func NewSerializer() *Serializer {
	s := &Serializer{
		jobs: make(chan *job, 64),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Serializer) loop() {
	defer s.wg.Done()
	for j := range s.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.op(j.ctx)
	}
}

// Enqueue appends op to the lane and blocks until it has run, returning
// the op's error. Each op runs only after all previously enqueued ops
// have settled.
func (s *Serializer) Enqueue(ctx context.Context, op Op) error {
	j := &job{ctx: ctx, op: op, done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSerializerClosed
	}
	select {
	case s.jobs <- j:
		s.mu.Unlock()
	case <-ctx.Done():
		s.mu.Unlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The op still runs to completion in the lane; only the caller
		// stops waiting. done is buffered so the worker never blocks.
		return ctx.Err()
	}
}

// Drain resolves once every op enqueued before it has completed. Used
// before opening a transaction so transactional and bare writes never
// interleave.
func (s *Serializer) Drain(ctx context.Context) error {
	return s.Enqueue(ctx, func(context.Context) error { return nil })
}

// Close stops accepting ops and waits for the lane to empty.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}
