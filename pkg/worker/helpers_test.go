package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/extension-workers/pkg/channel"
	"github.com/morezero/extension-workers/pkg/commsutil"
	"github.com/morezero/extension-workers/pkg/dispatcher"
)

type hostCall struct {
	method string
	args   []interface{}
}

// mockHost plays the host side of the extensions protocol and records every
// call it receives in arrival order.
type mockHost struct {
	d *dispatcher.Dispatcher

	workerID int
	location string

	mu         sync.Mutex
	calls      []hostCall
	rejectName map[string]bool
	initCh     chan hostCall
	// registerGate, when set, holds every registerExtensionService reply
	// until it is closed.
	registerGate chan struct{}
}

func newMockHost(d *dispatcher.Dispatcher, workerID int, location string) *mockHost {
	return &mockHost{
		d:          d,
		workerID:   workerID,
		location:   location,
		rejectName: make(map[string]bool),
		initCh:     make(chan hostCall, 4),
	}
}

func (h *mockHost) record(method string, args []interface{}) hostCall {
	c := hostCall{method: method, args: args}
	h.mu.Lock()
	h.calls = append(h.calls, c)
	h.mu.Unlock()
	return c
}

func (h *mockHost) service() dispatcher.Service {
	return dispatcher.Service{
		MethodAllocateWorker: func(_ context.Context, args []interface{}) (interface{}, error) {
			h.record(MethodAllocateWorker, args)
			return []interface{}{h.workerID, h.location}, nil
		},
		MethodRegisterExtensionService: func(_ context.Context, args []interface{}) (interface{}, error) {
			h.record(MethodRegisterExtensionService, args)
			if h.registerGate != nil {
				<-h.registerGate
			}
			name, err := dispatcher.ArgString(args, 0)
			if err != nil {
				return nil, err
			}
			h.mu.Lock()
			reject := h.rejectName[name]
			h.mu.Unlock()
			if reject {
				return nil, fmt.Errorf("host refused %s", name)
			}
			return nil, nil
		},
		MethodOnWorkerInit: func(_ context.Context, args []interface{}) (interface{}, error) {
			h.initCh <- h.record(MethodOnWorkerInit, args)
			return nil, nil
		},
	}
}

func (h *mockHost) reject(name string) {
	h.mu.Lock()
	h.rejectName[name] = true
	h.mu.Unlock()
}

func (h *mockHost) snapshot() []hostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hostCall(nil), h.calls...)
}

func (h *mockHost) methods() []string {
	var out []string
	for _, c := range h.snapshot() {
		out = append(out, c.method)
	}
	return out
}

func (h *mockHost) count(method string) int {
	n := 0
	for _, c := range h.snapshot() {
		if c.method == method {
			n++
		}
	}
	return n
}

type harness struct {
	host    *mockHost
	hostD   *dispatcher.Dispatcher
	workerD *dispatcher.Dispatcher
	runtime *Runtime
}

// newHarness wires a runtime to a mock host over an in-memory pipe. When
// withHost is false the host side exposes no extensions service at all.
func newHarness(t *testing.T, loader Loader, withHost bool) *harness {
	t.Helper()
	a, b := channel.NewPipe()
	hostD := dispatcher.New(a, dispatcher.WithSide("host"))
	workerD := dispatcher.New(b, dispatcher.WithSide("worker"))
	t.Cleanup(func() {
		workerD.Close()
		hostD.Close()
	})

	host := newMockHost(hostD, 7, "script-A")
	if withHost {
		if err := hostD.SetService(commsutil.ExtensionsService, host.service()); err != nil {
			t.Fatalf("worker:helpers_test - SetService: %v", err)
		}
	}
	return &harness{
		host:    host,
		hostD:   hostD,
		workerD: workerD,
		runtime: New(workerD, workerD.Ready(), loader),
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func pingService(reply string) dispatcher.Service {
	return dispatcher.Service{
		"ping": func(context.Context, []interface{}) (interface{}, error) { return reply, nil },
	}
}

func waitForState(t *testing.T, rt *Runtime, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rt.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker:helpers_test - state = %s, want %s", rt.State(), want)
}
