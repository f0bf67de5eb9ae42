package dispatcher

import (
	"context"
	"sync"
)

// Future is the eventual outcome of one call.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Rejected returns a future that has already failed with err.
func Rejected(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

// settle records the outcome; only the first call has any effect.
func (f *Future) settle(value interface{}, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the call has resolved or failed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future) Result() (interface{}, error) {
	return f.value, f.err
}

// Wait blocks for the outcome. A ctx that ends first returns ctx.Err() but
// leaves the call outstanding.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
