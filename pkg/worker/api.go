package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/extension"
)

// API is the capability surface handed to extension code. It is built fresh
// for every runtime and is the only way extension code reaches the runtime.
type API struct {
	BlockType    extension.BlockTypeTable
	ArgumentType extension.ArgumentTypeTable
	TargetType   extension.TargetTypeTable

	rt *Runtime
}

func newAPI(rt *Runtime) *API {
	return &API{
		BlockType:    extension.BlockTypes,
		ArgumentType: extension.ArgumentTypes,
		TargetType:   extension.TargetTypes,
		rt:           rt,
	}
}

// Register publishes svc as a new extension service of this worker and
// announces it to the host. The returned Registration completes when the
// host has acknowledged the service name.
func (a *API) Register(svc dispatcher.Service) *Registration {
	return a.rt.register(svc)
}

// WorkerID returns the identity the host assigned to this worker.
func (a *API) WorkerID() int {
	return a.rt.WorkerID()
}

// Registration is one extension registered through API.Register.
type Registration struct {
	ExtensionID int
	ServiceName string
	// Late is true for registrations made after the initial batch froze.
	Late bool

	future *dispatcher.Future
}

// Done is closed when the registration has completed or failed.
func (r *Registration) Done() <-chan struct{} { return r.future.Done() }

// Wait blocks until the registration settles or ctx ends.
func (r *Registration) Wait(ctx context.Context) error {
	_, err := r.future.Wait(ctx)
	return err
}

// Err returns the outcome of a settled registration, nil while pending.
func (r *Registration) Err() error {
	select {
	case <-r.future.Done():
		_, err := r.future.Result()
		return err
	default:
		return nil
	}
}

func (r *Registration) watchLate() {
	<-r.future.Done()
	if _, err := r.future.Result(); err != nil {
		slog.Error(fmt.Sprintf("%s - late registration of %s failed: %v", logPrefix, r.ServiceName, err))
		return
	}
	slog.Info(fmt.Sprintf("%s - late registration of %s completed", logPrefix, r.ServiceName))
}
