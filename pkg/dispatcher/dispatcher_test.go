package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/morezero/extension-workers/pkg/channel"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

func newPair(t *testing.T, opts ...Option) (*Dispatcher, *Dispatcher) {
	t.Helper()
	a, b := channel.NewPipe()
	host := New(a, append([]Option{WithSide("host")}, opts...)...)
	worker := New(b, append([]Option{WithSide("worker")}, opts...)...)
	t.Cleanup(func() {
		host.Close()
		worker.Close()
	})
	return host, worker
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func echoService() Service {
	return Service{
		"echo": func(_ context.Context, args []interface{}) (interface{}, error) {
			return ArgString(args, 0)
		},
		"fail": func(_ context.Context, _ []interface{}) (interface{}, error) {
			return nil, errors.New("block exploded")
		},
		"panic": func(_ context.Context, _ []interface{}) (interface{}, error) {
			panic("handler panic")
		},
	}
}

func TestCall_ResolvesWithHandlerValue(t *testing.T) {
	host, worker := newPair(t)
	if err := worker.SetService("svc", echoService()); err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	got, err := host.Call(waitCtx(t), "svc", "echo", "hello")
	if err != nil {
		t.Fatalf("%s - Call: %v", dispatcherTestPrefix, err)
	}
	if got != "hello" {
		t.Errorf("%s - Call = %v, want hello", dispatcherTestPrefix, got)
	}
	if n := host.PendingCount(); n != 0 {
		t.Errorf("%s - PendingCount = %d, want 0", dispatcherTestPrefix, n)
	}
}

func TestCall_ConcurrentCallsResolveToOwnValues(t *testing.T) {
	host, worker := newPair(t)
	if err := worker.SetService("svc", echoService()); err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("value-%d", i)
			got, err := host.Call(waitCtx(t), "svc", "echo", want)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("got %v, want %s", got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("%s - %v", dispatcherTestPrefix, err)
	}
}

func TestCall_ResolvesOutOfOrder(t *testing.T) {
	host, worker := newPair(t)

	release := make(chan struct{})
	err := worker.SetService("svc", Service{
		"slow": func(_ context.Context, _ []interface{}) (interface{}, error) {
			<-release
			return "slow", nil
		},
		"fast": func(_ context.Context, _ []interface{}) (interface{}, error) {
			return "fast", nil
		},
	})
	if err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	slow := host.Go("svc", "slow")
	fast := host.Go("svc", "fast")

	if v, err := fast.Wait(waitCtx(t)); err != nil || v != "fast" {
		t.Fatalf("%s - fast = %v, %v", dispatcherTestPrefix, v, err)
	}
	select {
	case <-slow.Done():
		t.Fatalf("%s - slow call resolved before release", dispatcherTestPrefix)
	default:
	}

	close(release)
	if v, err := slow.Wait(waitCtx(t)); err != nil || v != "slow" {
		t.Fatalf("%s - slow = %v, %v", dispatcherTestPrefix, v, err)
	}
}

func TestCall_UnknownServiceRejects(t *testing.T) {
	host, _ := newPair(t)

	_, err := host.Call(waitCtx(t), "nope", "anything")
	if err == nil {
		t.Fatalf("%s - expected error", dispatcherTestPrefix)
	}
	if !IsServiceNotFound(err) {
		t.Errorf("%s - err = %v, want service not found", dispatcherTestPrefix, err)
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.Service != "nope" || re.Method != "anything" {
		t.Errorf("%s - RemoteError = %+v", dispatcherTestPrefix, re)
	}
}

func TestCall_UnknownMethodRejects(t *testing.T) {
	host, worker := newPair(t)
	if err := worker.SetService("svc", echoService()); err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	_, err := host.Call(waitCtx(t), "svc", "missing")
	if !IsMethodNotFound(err) {
		t.Fatalf("%s - err = %v, want method not found", dispatcherTestPrefix, err)
	}
	if !strings.Contains(err.Error(), "svc.missing") {
		t.Errorf("%s - err = %q, want it to name svc.missing", dispatcherTestPrefix, err)
	}
}

func TestCall_HandlerFailuresBecomeRemoteErrors(t *testing.T) {
	host, worker := newPair(t)
	if err := worker.SetService("svc", echoService()); err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	tests := []struct {
		method string
		want   string
	}{
		{"fail", "block exploded"},
		{"panic", "handler panic"},
		{"echo", "expected string"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := host.Call(waitCtx(t), "svc", tt.method, 42)
			var re *RemoteError
			if !errors.As(err, &re) {
				t.Fatalf("%s - err = %v, want RemoteError", dispatcherTestPrefix, err)
			}
			if !strings.Contains(re.Description, tt.want) {
				t.Errorf("%s - Description = %q, want it to contain %q", dispatcherTestPrefix, re.Description, tt.want)
			}
		})
	}

	// The dispatcher keeps serving after a handler failure.
	if got, err := host.Call(waitCtx(t), "svc", "echo", "still-alive"); err != nil || got != "still-alive" {
		t.Errorf("%s - after failures: %v, %v", dispatcherTestPrefix, got, err)
	}
}

func TestSetService_DuplicateKeepsFirst(t *testing.T) {
	host, worker := newPair(t)

	first := Service{"who": func(context.Context, []interface{}) (interface{}, error) { return "first", nil }}
	second := Service{"who": func(context.Context, []interface{}) (interface{}, error) { return "second", nil }}

	if err := worker.SetService("svc", first); err != nil {
		t.Fatalf("%s - first SetService: %v", dispatcherTestPrefix, err)
	}
	err := worker.SetService("svc", second)
	if !errors.Is(err, ErrServiceExists) {
		t.Fatalf("%s - second SetService err = %v, want ErrServiceExists", dispatcherTestPrefix, err)
	}

	got, err := host.Call(waitCtx(t), "svc", "who")
	if err != nil || got != "first" {
		t.Errorf("%s - who = %v, %v; want first", dispatcherTestPrefix, got, err)
	}
}

func TestSetService_Validation(t *testing.T) {
	_, worker := newPair(t)

	tests := []struct {
		name string
		svc  Service
	}{
		{"", Service{}},
		{"nil-table", nil},
		{"nil-method", Service{"m": nil}},
	}
	for _, tt := range tests {
		if err := worker.SetService(tt.name, tt.svc); !errors.Is(err, ErrInvalidService) {
			t.Errorf("%s - SetService(%q) err = %v, want ErrInvalidService", dispatcherTestPrefix, tt.name, err)
		}
	}

	// A service with zero methods is allowed.
	if err := worker.SetService("empty", Service{}); err != nil {
		t.Errorf("%s - empty service: %v", dispatcherTestPrefix, err)
	}
}

func TestSettle_DuplicateAndStaleResultsDiscarded(t *testing.T) {
	a, b := channel.NewPipe()
	d := New(a, WithSide("host"))
	defer d.Close()

	calls := make(chan *channel.Message, 4)
	b.OnMessage(func(m *channel.Message) { calls <- m })

	f := d.Go("svc", "m")
	var call *channel.Message
	select {
	case call = <-calls:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - call never reached the peer", dispatcherTestPrefix)
	}
	if call.Type != channel.KindCall || call.Service != "svc" || call.Method != "m" {
		t.Fatalf("%s - unexpected call %+v", dispatcherTestPrefix, call)
	}

	// Stale ID first, then the real result twice, then an error for the same ID.
	for _, m := range []*channel.Message{
		channel.NewResult(call.ID+100, "stale"),
		channel.NewResult(call.ID, "first"),
		channel.NewResult(call.ID, "second"),
		channel.NewError(call.ID, "late error"),
	} {
		if err := b.Send(m); err != nil {
			t.Fatalf("%s - Send: %v", dispatcherTestPrefix, err)
		}
	}

	got, err := f.Wait(waitCtx(t))
	if err != nil || got != "first" {
		t.Fatalf("%s - future = %v, %v; want first", dispatcherTestPrefix, got, err)
	}

	// A follow-up call proves the dispatcher survived the extra messages.
	f2 := d.Go("svc", "m")
	select {
	case call = <-calls:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - second call never reached the peer", dispatcherTestPrefix)
	}
	b.Send(channel.NewResult(call.ID, "again"))
	if got, err := f2.Wait(waitCtx(t)); err != nil || got != "again" {
		t.Fatalf("%s - second future = %v, %v", dispatcherTestPrefix, got, err)
	}
}

func TestCorrelationIDs_AreUnique(t *testing.T) {
	a, b := channel.NewPipe()
	d := New(a)
	defer d.Close()

	calls := make(chan *channel.Message, 10)
	b.OnMessage(func(m *channel.Message) { calls <- m })

	for i := 0; i < 10; i++ {
		d.Go("svc", "m", i)
	}
	seen := make(map[int64]bool)
	var last int64
	for i := 0; i < 10; i++ {
		m := <-calls
		if seen[m.ID] {
			t.Fatalf("%s - duplicate correlation id %d", dispatcherTestPrefix, m.ID)
		}
		if m.ID <= last {
			t.Fatalf("%s - ids out of send order: %d after %d", dispatcherTestPrefix, m.ID, last)
		}
		seen[m.ID] = true
		last = m.ID
	}
	if n := d.PendingCount(); n != 10 {
		t.Errorf("%s - PendingCount = %d, want 10", dispatcherTestPrefix, n)
	}
}

func TestTeardown_RejectsPendingCalls(t *testing.T) {
	a, b := channel.NewPipe()
	d := New(a)

	// Nobody serves on b, so these stay pending.
	b.OnMessage(func(*channel.Message) {})
	f1 := d.Go("svc", "m")
	f2 := d.Go("svc", "m")

	// A caller's own timeout does not cancel or remove the call.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f1.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("%s - Wait err = %v, want DeadlineExceeded", dispatcherTestPrefix, err)
	}
	if n := d.PendingCount(); n != 2 {
		t.Fatalf("%s - PendingCount = %d, want 2", dispatcherTestPrefix, n)
	}

	b.Close()

	for _, f := range []*Future{f1, f2} {
		if _, err := f.Wait(waitCtx(t)); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("%s - pending call err = %v, want ErrChannelClosed", dispatcherTestPrefix, err)
		}
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - dispatcher not torn down", dispatcherTestPrefix)
	}
	if _, err := d.Call(waitCtx(t), "svc", "m"); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("%s - call after teardown err = %v, want ErrChannelClosed", dispatcherTestPrefix, err)
	}
}

func TestMetrics_RecordCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("%s - NewMetrics: %v", dispatcherTestPrefix, err)
	}
	host, worker := newPair(t, WithMetrics(m))
	if err := worker.SetService("svc", echoService()); err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	if _, err := host.Call(waitCtx(t), "svc", "echo", "x"); err != nil {
		t.Fatalf("%s - Call: %v", dispatcherTestPrefix, err)
	}
	host.Call(waitCtx(t), "svc", "fail")
	host.Call(waitCtx(t), "ghost", "echo")

	if got := testutil.ToFloat64(m.callsSent.WithLabelValues("host", "echo")); got != 2 {
		t.Errorf("%s - calls sent (echo) = %v, want 2", dispatcherTestPrefix, got)
	}
	if got := testutil.ToFloat64(m.callsSettled.WithLabelValues("host", outcomeOK)); got != 1 {
		t.Errorf("%s - settled ok = %v, want 1", dispatcherTestPrefix, got)
	}
	if got := testutil.ToFloat64(m.callsSettled.WithLabelValues("host", outcomeRemoteError)); got != 2 {
		t.Errorf("%s - settled remote_error = %v, want 2", dispatcherTestPrefix, got)
	}
	if got := testutil.ToFloat64(m.callsServed.WithLabelValues("worker", outcomeServiceNotFound)); got != 1 {
		t.Errorf("%s - served service_not_found = %v, want 1", dispatcherTestPrefix, got)
	}
	if got := testutil.ToFloat64(m.pending.WithLabelValues("host")); got != 0 {
		t.Errorf("%s - pending gauge = %v, want 0", dispatcherTestPrefix, got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Errorf("%s - registering twice should fail", dispatcherTestPrefix)
	}
}

func TestServe_UnencodableResultBecomesError(t *testing.T) {
	host, worker := newPair(t)
	err := worker.SetService("svc", Service{
		"inf": func(context.Context, []interface{}) (interface{}, error) {
			return math.Inf(1), nil
		},
	})
	if err != nil {
		t.Fatalf("%s - SetService: %v", dispatcherTestPrefix, err)
	}

	_, err = host.Call(waitCtx(t), "svc", "inf")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("%s - err = %v, want RemoteError", dispatcherTestPrefix, err)
	}
	if !strings.Contains(re.Description, "failed to encode result") {
		t.Errorf("%s - Description = %q, want encode failure", dispatcherTestPrefix, re.Description)
	}
	if n := host.PendingCount(); n != 0 {
		t.Errorf("%s - PendingCount = %d, want 0", dispatcherTestPrefix, n)
	}
}

// closedSender is a channel that refuses every send with ErrClosed but has
// not yet reported Done, as happens in the window before teardown.
type closedSender struct {
	ready, done chan struct{}
}

func (c *closedSender) Send(*channel.Message) error {
	return fmt.Errorf("transport: %w", channel.ErrClosed)
}

func (c *closedSender) OnMessage(func(*channel.Message)) {}
func (c *closedSender) Ready() <-chan struct{}           { return c.ready }
func (c *closedSender) Done() <-chan struct{}            { return c.done }
func (c *closedSender) Close() error                     { return nil }

func TestGo_SendOnClosedChannelRejectsWithChannelClosed(t *testing.T) {
	ch := &closedSender{ready: make(chan struct{}), done: make(chan struct{})}
	close(ch.ready)
	d := New(ch)
	defer d.Close()

	_, err := d.Call(waitCtx(t), "svc", "m")
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("%s - err = %v, want ErrChannelClosed", dispatcherTestPrefix, err)
	}
	if n := d.PendingCount(); n != 0 {
		t.Errorf("%s - PendingCount = %d, want 0", dispatcherTestPrefix, n)
	}
}
