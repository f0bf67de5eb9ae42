// Package worker runs extension code on the worker side of a channel: it
// allocates a worker identity from the host, loads the extension code,
// publishes every registered extension as a service and reports readiness.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/extension-workers/pkg/commsutil"
	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/latch"
)

const logPrefix = "worker:runtime"

// Host methods of the well-known extensions service.
const (
	MethodAllocateWorker           = "allocateWorker"
	MethodOnWorkerInit             = "onWorkerInit"
	MethodRegisterExtensionService = "registerExtensionService"
)

// Dispatcher is the part of *dispatcher.Dispatcher the runtime needs.
type Dispatcher interface {
	Go(service, method string, args ...interface{}) *dispatcher.Future
	SetService(name string, svc dispatcher.Service) error
}

// Runtime drives one worker through its lifecycle.
type Runtime struct {
	d      Dispatcher
	ready  <-chan struct{}
	loader Loader

	firstRegistration *latch.Latch

	mu            sync.Mutex
	state         State
	err           error
	workerID      int
	nextExtension int
	// initial collects registrations until the batch freezes.
	initial       []*Registration
	batchFrozen   bool
	registrations []*Registration
}

// New creates a runtime that talks through d once ready is closed and loads
// code with loader.
func New(d Dispatcher, ready <-chan struct{}, loader Loader) *Runtime {
	return &Runtime{
		d:                 d,
		ready:             ready,
		loader:            loader,
		firstRegistration: latch.New(),
		state:             StateConnecting,
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure reason once the runtime is Failed.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// WorkerID returns the host-assigned identity, 0 before allocation.
func (r *Runtime) WorkerID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerID
}

// Registrations returns every registration so far in extension ID order.
func (r *Runtime) Registrations() []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Registration(nil), r.registrations...)
}

// Run takes the worker from Connecting to Ready. It returns nil once the host
// has been told the worker is initialized. No step has a timeout: code that
// never registers keeps Run waiting until ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return r.fail(ctx.Err())
	}

	r.setState(StateAllocating)
	workerID, location, err := r.allocate(ctx)
	if err != nil {
		return r.fail(err)
	}
	r.mu.Lock()
	r.workerID = workerID
	r.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - allocated worker %d, loading %s", logPrefix, workerID, location))

	r.setState(StateLoadingCode)
	if err := r.loader.Load(ctx, location, newAPI(r)); err != nil {
		failErr := r.fail(fmt.Errorf("%s - failed to load %s: %w", logPrefix, location, err))
		description := err.Error()
		if description == "" {
			description = "extension code failed to load"
		}
		r.notifyInit(ctx, workerID, description)
		return failErr
	}

	r.setState(StateAwaitingFirstRegistration)
	if err := r.firstRegistration.Wait(ctx); err != nil {
		return r.fail(err)
	}

	r.setState(StateRegisteringInitialBatch)
	r.mu.Lock()
	batch := r.initial
	r.initial = nil
	r.batchFrozen = true
	r.mu.Unlock()

	// Every registration is already in flight; waiting on them in turn lets
	// each settle on its own.
	for _, reg := range batch {
		if err := reg.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return r.fail(ctx.Err())
			}
			slog.Error(fmt.Sprintf("%s - registration of %s failed: %v", logPrefix, reg.ServiceName, err))
		}
	}

	if err := r.notifyInit(ctx, workerID, ""); err != nil {
		return r.fail(err)
	}
	r.setState(StateReady)
	slog.Info(fmt.Sprintf("%s - worker %d ready with %d extensions", logPrefix, workerID, len(batch)))
	return nil
}

func (r *Runtime) allocate(ctx context.Context) (int, string, error) {
	v, err := r.d.Go(commsutil.ExtensionsService, MethodAllocateWorker).Wait(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("%s - allocateWorker: %w", logPrefix, err)
	}
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, "", fmt.Errorf("%s - allocateWorker returned %T, want [workerId, location]", logPrefix, v)
	}
	id, err := dispatcher.ArgInt(pair, 0)
	if err != nil {
		return 0, "", fmt.Errorf("%s - allocateWorker worker id: %w", logPrefix, err)
	}
	location, err := dispatcher.ArgString(pair, 1)
	if err != nil {
		return 0, "", fmt.Errorf("%s - allocateWorker location: %w", logPrefix, err)
	}
	return id, location, nil
}

// notifyInit reports the outcome of initialization. An empty description
// means success and is sent without the error argument.
func (r *Runtime) notifyInit(ctx context.Context, workerID int, description string) error {
	args := []interface{}{workerID}
	if description != "" {
		args = append(args, description)
	}
	if _, err := r.d.Go(commsutil.ExtensionsService, MethodOnWorkerInit, args...).Wait(ctx); err != nil {
		slog.Error(fmt.Sprintf("%s - onWorkerInit for worker %d failed: %v", logPrefix, workerID, err))
		return fmt.Errorf("%s - onWorkerInit: %w", logPrefix, err)
	}
	return nil
}

func (r *Runtime) register(svc dispatcher.Service) *Registration {
	r.mu.Lock()
	reg := &Registration{
		ExtensionID: r.nextExtension,
		ServiceName: commsutil.BuildExtensionServiceName(r.workerID, r.nextExtension),
		Late:        r.batchFrozen,
	}
	r.nextExtension++

	// Installed and announced under the lock so announcements go out in
	// extension ID order.
	if err := r.d.SetService(reg.ServiceName, svc); err != nil {
		reg.future = dispatcher.Rejected(err)
	} else {
		reg.future = r.d.Go(commsutil.ExtensionsService, MethodRegisterExtensionService, reg.ServiceName)
	}
	if !reg.Late {
		r.initial = append(r.initial, reg)
	}
	r.registrations = append(r.registrations, reg)
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - registering extension %d as %s", logPrefix, reg.ExtensionID, reg.ServiceName))
	if reg.Late {
		go reg.watchLate()
	}
	r.firstRegistration.Set()
	return reg
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	prev := r.state
	if prev.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - state %s -> %s", logPrefix, prev, s))
}

// fail moves the runtime to Failed and returns err for convenience.
func (r *Runtime) fail(err error) error {
	r.mu.Lock()
	if r.state != StateFailed {
		r.state = StateFailed
		r.err = err
	}
	r.mu.Unlock()
	slog.Error(fmt.Sprintf("%s - worker failed: %v", logPrefix, err))
	return err
}
