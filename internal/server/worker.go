package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/extension-workers/internal/config"
	"github.com/morezero/extension-workers/pkg/channel"
	"github.com/morezero/extension-workers/pkg/commsutil"
	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/extension/builtin"
	"github.com/morezero/extension-workers/pkg/extension/script"
	"github.com/morezero/extension-workers/pkg/worker"
)

const workerLogPrefix = "server:worker"

// RunWorker joins the host session named by WORKER_SESSION, runs the worker
// runtime and blocks until signal or until the connection goes away.
func RunWorker() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", workerLogPrefix, err)
	}
	if err := cfg.ValidateForWorker(); err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	codec, err := cfg.Codec()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := commsutil.Connect(cfg.COMMSURL, fmt.Sprintf("extension-worker-%s", cfg.WorkerSession), &commsutil.ConnectOpts{OnClosed: cancel})
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", workerLogPrefix, err)
	}
	defer nc.Close()

	ch, err := channel.NewNATSChannel(nc, cfg.WorkerSession, commsutil.SideWorker, codec)
	if err != nil {
		return fmt.Errorf("%s - failed to join session %s: %w", workerLogPrefix, cfg.WorkerSession, err)
	}
	d := dispatcher.New(ch, dispatcher.WithSide(commsutil.SideWorker))
	defer d.Close()

	rt := worker.New(d, d.Ready(), extensionLoader())
	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("%s - worker failed: %w", workerLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - worker %d serving session %s", workerLogPrefix, rt.WorkerID(), cfg.WorkerSession))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-d.Done():
		}
		close(done)
	}()
	reason := waitForSignal(done)
	slog.Info(fmt.Sprintf("%s - worker %d stopping: %s", workerLogPrefix, rt.WorkerID(), reason))
	return nil
}

// extensionLoader serves builtin:// locations from the bundled extensions and
// runs every other location as a JavaScript file or URL.
func extensionLoader() worker.Loader {
	return worker.NewRouteLoader(script.NewLoader()).Handle(builtin.LocationPrefix, builtin.Loader())
}
