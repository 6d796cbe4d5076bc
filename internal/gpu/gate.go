package gpu

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrShuttingDown is returned by Acquire after shutdown has been requested.
var ErrShuttingDown = errors.New("accelerator gate shutting down")

// Gate is a single-slot exclusion gate for accelerator-bound work.
type Gate struct {
	slot     chan struct{}
	shutdown atomic.Bool
}

// NewGate returns an unlocked gate.
func NewGate() *Gate {
	g := &Gate{slot: make(chan struct{}, 1)}
	g.slot <- struct{}{}
	return g
}

// Acquire blocks until the slot is free, the context is cancelled, or
// shutdown is requested. On success the caller must Release, typically via
// defer so the gate survives a panicking critical section.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.shutdown.Load() {
		return ErrShuttingDown
	}
	select {
	case <-g.slot:
		// Re-check: shutdown may have been requested while we waited.
		if g.shutdown.Load() {
			g.slot <- struct{}{}
			return ErrShuttingDown
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire grabs the slot without blocking.
func (g *Gate) TryAcquire() bool {
	if g.shutdown.Load() {
		return false
	}
	select {
	case <-g.slot:
		if g.shutdown.Load() {
			g.slot <- struct{}{}
			return false
		}
		return true
	default:
		return false
	}
}

// Release frees the slot for the next waiter. Releasing an unheld gate
// panics: that is always a caller bug.
func (g *Gate) Release() {
	select {
	case g.slot <- struct{}{}:
	default:
		panic("gpu: release of unheld gate")
	}
}

// RequestShutdown blocks new acquisitions. In-flight holders finish and
// release normally.
func (g *Gate) RequestShutdown() {
	g.shutdown.Store(true)
}

// ShuttingDown reports whether shutdown has been requested.
func (g *Gate) ShuttingDown() bool {
	return g.shutdown.Load()
}
