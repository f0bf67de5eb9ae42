// Package host implements the host side of the extension worker protocol:
// the well-known extensions service, worker bookkeeping and routing of
// block calls to the worker that registered each extension service.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/morezero/extension-workers/pkg/commsutil"
	"github.com/morezero/extension-workers/pkg/db"
	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/events"
	"github.com/morezero/extension-workers/pkg/worker"
)

const logPrefix = "host:manager"

var (
	// ErrUnknownService is returned by CallBlock for a service no worker registered.
	ErrUnknownService = errors.New("host: unknown extension service")
	// ErrWorkerNotReady is returned by CallBlock while the owning worker is not ready.
	ErrWorkerNotReady = errors.New("host: worker not ready")
	// ErrWorkerActive is returned by Forget for a worker that is still connected.
	ErrWorkerActive = errors.New("host: worker still active")
)

// storeTimeout bounds store writes made after a channel has already closed.
const storeTimeout = 5 * time.Second

// ManagerParams holds dependencies for NewManager. Nil values use defaults.
type ManagerParams struct {
	Store     WorkerStore
	Publisher events.EventPublisher
	// DispatcherOptions are applied to every host-side dispatcher the
	// launchers create.
	DispatcherOptions []dispatcher.Option
}

// Manager tracks every worker attached to this host.
type Manager struct {
	store      WorkerStore
	publisher  events.EventPublisher
	dispatchOp []dispatcher.Option

	mu       sync.RWMutex
	attached map[*Worker]struct{}
	workers  map[int]*Worker
	routes   map[string]*Worker
}

// NewManager creates a Manager.
func NewManager(params ManagerParams) *Manager {
	store := params.Store
	if store == nil {
		store = NewMemoryStore()
	}
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Manager{
		store:      store,
		publisher:  pub,
		dispatchOp: params.DispatcherOptions,
		attached:   make(map[*Worker]struct{}),
		workers:    make(map[int]*Worker),
		routes:     make(map[string]*Worker),
	}
}

// Store returns the worker store.
func (m *Manager) Store() WorkerStore { return m.store }

// Attach serves the extensions service on d for one worker that will load
// the code at location. The worker's identity is assigned when it calls
// allocateWorker.
func (m *Manager) Attach(d Dispatcher, location string) (*Worker, error) {
	w := newWorker(d, location)
	if err := d.SetService(commsutil.ExtensionsService, m.extensionsService(w)); err != nil {
		return nil, fmt.Errorf("%s - failed to attach worker for %s: %w", logPrefix, location, err)
	}

	m.mu.Lock()
	m.attached[w] = struct{}{}
	m.mu.Unlock()

	go m.watch(w)
	return w, nil
}

func (m *Manager) extensionsService(w *Worker) dispatcher.Service {
	return dispatcher.Service{
		worker.MethodAllocateWorker: func(ctx context.Context, _ []interface{}) (interface{}, error) {
			return m.allocateWorker(ctx, w)
		},
		worker.MethodRegisterExtensionService: func(ctx context.Context, args []interface{}) (interface{}, error) {
			name, err := dispatcher.ArgString(args, 0)
			if err != nil {
				return nil, err
			}
			return nil, m.registerExtensionService(ctx, w, name)
		},
		worker.MethodOnWorkerInit: func(ctx context.Context, args []interface{}) (interface{}, error) {
			id, err := dispatcher.ArgInt(args, 0)
			if err != nil {
				return nil, err
			}
			var description string
			if len(args) > 1 && args[1] != nil {
				if description, err = dispatcher.ArgString(args, 1); err != nil {
					return nil, err
				}
			}
			return nil, m.onWorkerInit(ctx, w, id, description)
		},
	}
}

func (m *Manager) allocateWorker(ctx context.Context, w *Worker) (interface{}, error) {
	// The claim and the assignment must not interleave with a second call.
	w.mu.Lock()
	if w.allocating || w.id != 0 {
		id := w.id
		w.mu.Unlock()
		if id != 0 {
			return nil, fmt.Errorf("worker already allocated as %d", id)
		}
		return nil, errors.New("worker allocation already in progress")
	}
	w.allocating = true
	w.mu.Unlock()

	id, err := m.store.NextWorkerID(ctx)

	w.mu.Lock()
	w.allocating = false
	if err == nil {
		w.id = id
		w.state = StateAllocated
	}
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()

	if err := m.save(ctx, w); err != nil {
		return nil, err
	}
	m.publish(ctx, &events.WorkerEvent{WorkerID: id, Kind: events.KindAllocated, Location: w.location})
	slog.Info(fmt.Sprintf("%s - allocated worker %d for %s", logPrefix, id, w.location))
	return []interface{}{id, w.location}, nil
}

func (m *Manager) registerExtensionService(ctx context.Context, w *Worker, name string) error {
	id := w.ID()
	if id == 0 {
		return errors.New("worker not allocated")
	}
	if !strings.HasPrefix(name, commsutil.ExtensionServicePrefix(id)) {
		return fmt.Errorf("service %s does not belong to worker %d", name, id)
	}

	m.mu.Lock()
	if _, taken := m.routes[name]; taken {
		m.mu.Unlock()
		return fmt.Errorf("service %s already registered", name)
	}
	m.routes[name] = w
	m.mu.Unlock()

	if err := m.store.AddService(ctx, id, name); err != nil {
		m.mu.Lock()
		delete(m.routes, name)
		m.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.services = append(w.services, name)
	w.mu.Unlock()

	m.publish(ctx, &events.WorkerEvent{WorkerID: id, Kind: events.KindServiceRegistered, ServiceName: name})
	slog.Info(fmt.Sprintf("%s - worker %d registered %s", logPrefix, id, name))
	return nil
}

func (m *Manager) onWorkerInit(ctx context.Context, w *Worker, id int, description string) error {
	w.mu.Lock()
	if w.id == 0 || w.id != id {
		w.mu.Unlock()
		return fmt.Errorf("unknown worker id %d", id)
	}
	if w.state != StateAllocated {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("worker %d already %s", id, state)
	}
	kind := events.KindReady
	if description == "" {
		w.state = StateReady
	} else {
		kind = events.KindFailed
		w.state = StateFailed
		w.errDesc = description
		w.initErr = &InitError{WorkerID: id, Description: description}
	}
	w.mu.Unlock()

	if err := m.save(ctx, w); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to persist init of worker %d: %v", logPrefix, id, err))
	}
	m.publish(ctx, &events.WorkerEvent{WorkerID: id, Kind: kind, Location: w.location, Error: description})
	w.init.Set()

	if description != "" {
		slog.Warn(fmt.Sprintf("%s - worker %d failed to initialize: %s", logPrefix, id, description))
	} else {
		slog.Info(fmt.Sprintf("%s - worker %d ready", logPrefix, id))
	}
	return nil
}

// watch marks the worker exited once its channel closes.
func (m *Manager) watch(w *Worker) {
	<-w.d.Done()

	w.mu.Lock()
	id := w.id
	if w.state == StatePending || w.state == StateAllocated {
		w.initErr = ErrWorkerExited
	}
	w.state = StateExited
	w.mu.Unlock()
	w.init.Set()

	m.mu.Lock()
	delete(m.attached, w)
	for name, owner := range m.routes {
		if owner == w {
			delete(m.routes, name)
		}
	}
	m.mu.Unlock()

	if id == 0 {
		slog.Warn(fmt.Sprintf("%s - worker for %s exited before allocation", logPrefix, w.location))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.save(ctx, w); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to persist exit of worker %d: %v", logPrefix, id, err))
	}
	m.publish(ctx, &events.WorkerEvent{WorkerID: id, Kind: events.KindExited, Location: w.location})
	slog.Info(fmt.Sprintf("%s - worker %d exited", logPrefix, id))
}

// CallBlock runs method on the extension service serviceName in the worker
// that registered it.
func (m *Manager) CallBlock(ctx context.Context, serviceName, method string, args ...interface{}) (interface{}, error) {
	m.mu.RLock()
	w, ok := m.routes[serviceName]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, serviceName)
	}
	if state := w.State(); state != StateReady {
		return nil, fmt.Errorf("%w: worker %d is %s", ErrWorkerNotReady, w.ID(), state)
	}
	return w.d.Go(serviceName, method, args...).Wait(ctx)
}

// Worker returns an allocated worker by id.
func (m *Manager) Worker(id int) (*Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	return w, ok
}

// Workers returns a snapshot of every allocated worker, ordered by id.
func (m *Manager) Workers() []WorkerInfo {
	m.mu.RLock()
	list := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		list = append(list, w)
	}
	m.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(list))
	for _, w := range list {
		out = append(out, w.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Services returns the routable service names, sorted.
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.routes))
	for name := range m.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Pending counts attached workers that have not reported initialization.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for w := range m.attached {
		if !w.init.IsSet() {
			n++
		}
	}
	return n
}

// Forget drops an exited worker from the manager and the store.
func (m *Manager) Forget(ctx context.Context, id int) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	if ok && w.State() != StateExited {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrWorkerActive, id)
	}
	delete(m.workers, id)
	m.mu.Unlock()

	if err := m.store.DeleteWorker(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) && ok {
			return nil
		}
		return err
	}
	return nil
}

func (m *Manager) save(ctx context.Context, w *Worker) error {
	f := w.record()
	return m.store.SaveWorker(ctx, db.WorkerRecord{ID: f.id, Location: f.location, State: f.state, Error: f.errDesc})
}

func (m *Manager) publish(ctx context.Context, ev *events.WorkerEvent) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if err := m.publisher.PublishWorker(ctx, ev); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for worker %d: %v", logPrefix, ev.Kind, ev.WorkerID, err))
	}
}
