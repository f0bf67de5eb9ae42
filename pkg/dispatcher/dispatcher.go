package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/morezero/extension-workers/pkg/channel"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher provides call/serve semantics over one channel. It owns the
// channel's pending calls and the local service registry.
type Dispatcher struct {
	side     string
	ch       channel.Channel
	services *ServiceRegistry
	metrics  *Metrics

	// ctx is handed to served methods and ends on teardown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingCall
	closed  bool
}

type pendingCall struct {
	service string
	method  string
	future  *Future
	started time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSide names the dispatcher in logs and metrics ("host", "worker").
func WithSide(side string) Option {
	return func(d *Dispatcher) { d.side = side }
}

// WithMetrics records call metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher and installs it as ch's message handler.
func New(ch channel.Channel, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		side:     "local",
		ch:       ch,
		services: NewServiceRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[int64]*pendingCall),
	}
	for _, opt := range opts {
		opt(d)
	}

	ch.OnMessage(d.handleMessage)
	go d.watch()
	return d
}

// Ready is closed once the underlying channel is usable.
func (d *Dispatcher) Ready() <-chan struct{} { return d.ch.Ready() }

// Done is closed once the dispatcher has been torn down.
func (d *Dispatcher) Done() <-chan struct{} { return d.ctx.Done() }

// Go sends a call and returns its future without waiting. The dispatcher
// imposes no timeout: a call the peer never answers stays pending until the
// channel is torn down.
func (d *Dispatcher) Go(service, method string, args ...interface{}) *Future {
	f := newFuture()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Rejected(ErrChannelClosed)
	}
	d.nextID++
	id := d.nextID
	d.pending[id] = &pendingCall{service: service, method: method, future: f, started: time.Now()}
	// Sending under the lock keeps wire order equal to ID order.
	err := d.ch.Send(channel.NewCall(id, service, method, args))
	if err != nil {
		delete(d.pending, id)
	} else {
		d.metrics.sent(d.side, method)
	}
	d.mu.Unlock()

	if err != nil {
		d.metrics.sendFailed(d.side)
		if errors.Is(err, channel.ErrClosed) {
			f.settle(nil, ErrChannelClosed)
			return f
		}
		f.settle(nil, fmt.Errorf("%s - failed to send %s.%s: %w", logPrefix, service, method, err))
		return f
	}

	slog.Debug(fmt.Sprintf("%s - [%s] sent call id=%d %s.%s", logPrefix, d.side, id, service, method))
	return f
}

// Call sends a call and waits for its outcome. ctx bounds only the wait.
func (d *Dispatcher) Call(ctx context.Context, service, method string, args ...interface{}) (interface{}, error) {
	return d.Go(service, method, args...).Wait(ctx)
}

// SetService registers svc under name for incoming calls. The registry is
// local, so the service is callable as soon as this returns.
func (d *Dispatcher) SetService(name string, svc Service) error {
	if err := d.services.Set(name, svc); err != nil {
		return fmt.Errorf("%s - SetService %s: %w", logPrefix, name, err)
	}
	slog.Debug(fmt.Sprintf("%s - [%s] service %s registered (%d methods)", logPrefix, d.side, name, len(svc)))
	return nil
}

// Services returns the names of the locally registered services.
func (d *Dispatcher) Services() []string {
	return d.services.Names()
}

// PendingCount reports the number of outstanding outgoing calls.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close closes the channel and rejects every pending call.
func (d *Dispatcher) Close() error {
	err := d.ch.Close()
	d.teardown()
	return err
}

func (d *Dispatcher) watch() {
	select {
	case <-d.ch.Done():
		slog.Info(fmt.Sprintf("%s - [%s] channel closed", logPrefix, d.side))
		d.teardown()
	case <-d.ctx.Done():
	}
}

func (d *Dispatcher) teardown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[int64]*pendingCall)
	d.mu.Unlock()

	d.cancel()

	if len(pending) > 0 {
		slog.Warn(fmt.Sprintf("%s - [%s] rejecting %d pending calls", logPrefix, d.side, len(pending)))
	}
	for _, pc := range pending {
		d.metrics.settled(d.side, outcomeChannelClosed, pc.started)
		pc.future.settle(nil, ErrChannelClosed)
	}
}

func (d *Dispatcher) handleMessage(m *channel.Message) {
	switch m.Type {
	case channel.KindCall:
		// Served concurrently: results may go out in a different order than
		// the calls came in.
		go d.serve(m)
	case channel.KindResult, channel.KindError:
		d.settle(m)
	default:
		slog.Warn(fmt.Sprintf("%s - [%s] ignoring message id=%d of type %q", logPrefix, d.side, m.ID, m.Type))
	}
}

func (d *Dispatcher) settle(m *channel.Message) {
	d.mu.Lock()
	pc, ok := d.pending[m.ID]
	if ok {
		delete(d.pending, m.ID)
	}
	d.mu.Unlock()

	if !ok {
		slog.Debug(fmt.Sprintf("%s - [%s] discarding %s for unknown id=%d", logPrefix, d.side, m.Type, m.ID))
		return
	}

	if m.Type == channel.KindError {
		d.metrics.settled(d.side, outcomeRemoteError, pc.started)
		pc.future.settle(nil, &RemoteError{Service: pc.service, Method: pc.method, Description: m.Error})
		return
	}
	d.metrics.settled(d.side, outcomeOK, pc.started)
	pc.future.settle(m.Value, nil)
}

func (d *Dispatcher) serve(m *channel.Message) {
	reply, outcome := d.invoke(m)
	d.metrics.served(d.side, outcome)

	err := d.ch.Send(reply)
	if err == nil {
		return
	}
	slog.Error(fmt.Sprintf("%s - [%s] failed to reply to %s.%s id=%d: %v", logPrefix, d.side, m.Service, m.Method, m.ID, err))
	if reply.Type != channel.KindResult || errors.Is(err, channel.ErrClosed) {
		return
	}
	// The value could not go on the wire; the caller still gets an answer.
	fallback := channel.NewError(m.ID, fmt.Sprintf("failed to encode result: %v", err))
	if err := d.ch.Send(fallback); err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] failed to send encode error for id=%d: %v", logPrefix, d.side, m.ID, err))
	}
}

func (d *Dispatcher) invoke(m *channel.Message) (reply *channel.Message, outcome string) {
	svc, ok := d.services.Get(m.Service)
	if !ok {
		slog.Warn(fmt.Sprintf("%s - [%s] call id=%d for unknown service %s", logPrefix, d.side, m.ID, m.Service))
		return channel.NewError(m.ID, serviceNotFound(m.Service)), outcomeServiceNotFound
	}
	method, ok := svc[m.Method]
	if !ok {
		slog.Warn(fmt.Sprintf("%s - [%s] call id=%d for unknown method %s.%s", logPrefix, d.side, m.ID, m.Service, m.Method))
		return channel.NewError(m.ID, methodNotFound(m.Service, m.Method)), outcomeMethodNotFound
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - [%s] %s.%s panicked: %v\n%s", logPrefix, d.side, m.Service, m.Method, r, debug.Stack()))
			reply, outcome = channel.NewError(m.ID, fmt.Sprintf("%v", r)), outcomeError
		}
	}()

	value, err := method(d.ctx, m.Args)
	if err != nil {
		return channel.NewError(m.ID, err.Error()), outcomeError
	}
	return channel.NewResult(m.ID, value), outcomeOK
}
