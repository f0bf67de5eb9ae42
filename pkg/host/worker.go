package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/latch"
)

// Worker states as seen by the host.
const (
	StatePending   = "pending"
	StateAllocated = "allocated"
	StateReady     = "ready"
	StateFailed    = "failed"
	StateExited    = "exited"
)

// ErrWorkerExited is returned by WaitInit when the channel closed before the
// worker reported its initialization.
var ErrWorkerExited = errors.New("host: worker exited before initializing")

// InitError is the failure a worker reported through onWorkerInit.
type InitError struct {
	WorkerID    int
	Description string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("worker %d failed to initialize: %s", e.WorkerID, e.Description)
}

// Dispatcher is the part of *dispatcher.Dispatcher the host needs per worker.
type Dispatcher interface {
	Go(service, method string, args ...interface{}) *dispatcher.Future
	SetService(name string, svc dispatcher.Service) error
	Done() <-chan struct{}
}

// Worker is the host's handle on one worker channel.
type Worker struct {
	location string
	d        Dispatcher
	init     *latch.Latch

	mu         sync.Mutex
	id         int
	allocating bool
	state      string
	errDesc    string
	initErr    error
	services   []string
}

// WorkerInfo is a snapshot of a worker for listings.
type WorkerInfo struct {
	ID       int      `json:"id"`
	Location string   `json:"location"`
	State    string   `json:"state"`
	Error    string   `json:"error,omitempty"`
	Services []string `json:"services"`
}

func newWorker(d Dispatcher, location string) *Worker {
	return &Worker{location: location, d: d, init: latch.New(), state: StatePending}
}

// ID returns the allocated worker identity, 0 before allocateWorker.
func (w *Worker) ID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *Worker) Location() string { return w.location }

func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerInfo{
		ID:       w.id,
		Location: w.location,
		State:    w.state,
		Error:    w.errDesc,
		Services: append([]string{}, w.services...),
	}
}

// Initialized is closed once the worker reported onWorkerInit or exited.
func (w *Worker) Initialized() <-chan struct{} { return w.init.Done() }

// WaitInit blocks until the worker reports its initialization. It returns
// nil for a ready worker, an *InitError for a reported failure and
// ErrWorkerExited if the channel went away first.
func (w *Worker) WaitInit(ctx context.Context) error {
	if err := w.init.Wait(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initErr
}

func (w *Worker) record() recordFields {
	w.mu.Lock()
	defer w.mu.Unlock()
	return recordFields{id: w.id, location: w.location, state: w.state, errDesc: w.errDesc}
}

type recordFields struct {
	id       int
	location string
	state    string
	errDesc  string
}
