// Package latch provides a one-shot signal: set exactly once, awaited by any
// number of listeners.
package latch

import (
	"context"
	"sync"
)

// Latch starts unset. The zero value is not usable; call New.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

func New() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set releases every current and future waiter. Later calls are no-ops.
// It reports whether this call was the one that set the latch.
func (l *Latch) Set() bool {
	first := false
	l.once.Do(func() {
		close(l.ch)
		first = true
	})
	return first
}

// IsSet reports whether Set has been called.
func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} { return l.ch }

// Wait blocks until the latch is set or ctx ends.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
