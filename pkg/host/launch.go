package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/extension-workers/pkg/channel"
	"github.com/morezero/extension-workers/pkg/commsutil"
	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/worker"
)

const launchLogPrefix = "host:launch"

// EnvWorkerSession carries the session a spawned worker process must join.
const EnvWorkerSession = "WORKER_SESSION"

// StartInProcess runs a worker runtime on its own goroutine connected to the
// host through an in-memory pipe. The worker stops when ctx ends.
func (m *Manager) StartInProcess(ctx context.Context, location string, loader worker.Loader, codec commsutil.Codec) (*Worker, error) {
	hostEnd, workerEnd := channel.NewPipeWithCodec(codec)
	hostD := dispatcher.New(hostEnd, append([]dispatcher.Option{dispatcher.WithSide(commsutil.SideHost)}, m.dispatchOp...)...)

	w, err := m.Attach(hostD, location)
	if err != nil {
		hostD.Close()
		return nil, err
	}

	workerD := dispatcher.New(workerEnd, append([]dispatcher.Option{dispatcher.WithSide(commsutil.SideWorker)}, m.dispatchOp...)...)
	rt := worker.New(workerD, workerD.Ready(), loader)
	go func() {
		if err := rt.Run(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - in-process worker for %s stopped: %v", launchLogPrefix, location, err))
		}
		<-ctx.Done()
		workerD.Close()
	}()
	return w, nil
}

// Process is a worker running as a child process.
type Process struct {
	Worker  *Worker
	Session string

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Done is closed when the child process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// StartProcess spawns binary as a worker joined to a fresh NATS session.
// The host subscribes before the child starts, so no early message is lost.
// Cancelling ctx kills the child; its exit closes the host channel.
func (m *Manager) StartProcess(ctx context.Context, nc *comms.Conn, binary, location string, codec commsutil.Codec) (*Process, error) {
	if binary == "" {
		return nil, errors.New("host: worker binary not set")
	}
	session := uuid.NewString()

	ch, err := channel.NewNATSChannel(nc, session, commsutil.SideHost, codec)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open session %s: %w", launchLogPrefix, session, err)
	}
	hostD := dispatcher.New(ch, append([]dispatcher.Option{dispatcher.WithSide(commsutil.SideHost)}, m.dispatchOp...)...)

	w, err := m.Attach(hostD, location)
	if err != nil {
		hostD.Close()
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binary)
	cmd.Env = append(os.Environ(), EnvWorkerSession+"="+session)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		hostD.Close()
		return nil, fmt.Errorf("%s - failed to start %s: %w", launchLogPrefix, binary, err)
	}
	slog.Info(fmt.Sprintf("%s - started worker process pid=%d session=%s for %s", launchLogPrefix, cmd.Process.Pid, session, location))

	p := &Process{Worker: w, Session: session, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
		slog.Info(fmt.Sprintf("%s - worker process session=%s exited: %v", launchLogPrefix, session, p.err))
		hostD.Close()
	}()
	return p, nil
}
