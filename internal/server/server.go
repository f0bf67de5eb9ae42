// Package server orchestrates the extension host (NATS, worker store,
// host manager, launchers, HTTP) and the standalone worker process.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/morezero/extension-workers/internal/config"
	"github.com/morezero/extension-workers/pkg/catalog"
	"github.com/morezero/extension-workers/pkg/commsutil"
	"github.com/morezero/extension-workers/pkg/db"
	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/events"
	"github.com/morezero/extension-workers/pkg/host"
)

const logPrefix = "server:server"

// Server is the extension host orchestrator.
type Server struct {
	// ctx bounds worker lifetimes; it ends at shutdown.
	ctx        context.Context
	cfg        *config.Config
	codec      commsutil.Codec
	nc         *comms.Conn
	pool       *pgxpool.Pool
	catalog    *catalog.Catalog
	manager    *host.Manager
	registry   *prometheus.Registry
	httpStats  *httpMetrics
	httpServer *http.Server
	started    atomic.Bool
}

// setupLogging installs the default text logger at the configured level.
func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// waitForSignal blocks until SIGINT or SIGTERM, or until done closes.
func waitForSignal(done <-chan struct{}) string {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		return sig.String()
	case <-done:
		return "channel closed"
	}
}

// RunHost starts the extension host, blocks until shutdown signal, then cleans up.
func RunHost() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForHost(); err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting extension host", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{ctx: ctx, cfg: cfg, registry: prometheus.NewRegistry()}
	if s.codec, err = cfg.Codec(); err != nil {
		return err
	}

	// Step 1: Load the extension catalog
	if s.catalog, err = catalog.LoadCatalog(cfg.CatalogFile); err != nil {
		return fmt.Errorf("%s - failed to load catalog: %w", logPrefix, err)
	}

	// Step 2: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, nil)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 3: Worker store (Postgres when configured, memory otherwise)
	store, err := s.openStore(ctx)
	if err != nil {
		nc.Close()
		return err
	}

	// Step 4: Metrics, events and the host manager
	metrics, err := dispatcher.NewMetrics(s.registry)
	if err != nil {
		s.closeBackends()
		return fmt.Errorf("%s - failed to register dispatcher metrics: %w", logPrefix, err)
	}
	if s.httpStats, err = newHTTPMetrics(s.registry); err != nil {
		s.closeBackends()
		return fmt.Errorf("%s - failed to register http metrics: %w", logPrefix, err)
	}
	publisher := events.MultiPublisher{
		events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
			SubjectPrefix: cfg.EventSubjectPrefix,
			Codec:         s.codec,
		}),
		events.LogPublisher{},
	}
	s.manager = host.NewManager(host.ManagerParams{
		Store:             store,
		Publisher:         publisher,
		DispatcherOptions: []dispatcher.Option{dispatcher.WithMetrics(metrics)},
	})

	// Step 5: Start the configured extensions
	refs := cfg.Extensions
	if len(refs) == 0 {
		refs = s.catalog.Names()
	}
	for _, ref := range refs {
		if _, err := s.startExtension(ctx, ref); err != nil {
			cancel()
			s.closeBackends()
			return err
		}
	}
	s.started.Store(true)

	// Step 6: Start HTTP server
	httpAddr := cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Extension host is ready", logPrefix))

	reason := waitForSignal(nil)
	slog.Info(fmt.Sprintf("%s - Received %s, shutting down", logPrefix, reason))

	// Graceful shutdown: stop HTTP first, then the workers, then the backends.
	s.httpServer.Shutdown(context.Background())
	cancel()
	s.closeBackends()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func (s *Server) openStore(ctx context.Context) (host.WorkerStore, error) {
	if s.cfg.DatabaseURL == "" {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, keeping worker records in memory", logPrefix))
		return host.NewMemoryStore(), nil
	}

	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL, &db.PoolOpts{ApplicationName: s.cfg.COMMSName})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return db.NewRepository(pool), nil
}

// startExtension resolves ref through the catalog and launches a worker for it,
// as a child process when WORKER_BINARY is set and in-process otherwise.
func (s *Server) startExtension(ctx context.Context, ref string) (*host.Worker, error) {
	res, err := s.catalog.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to resolve extension %q: %w", logPrefix, ref, err)
	}

	var w *host.Worker
	if s.cfg.WorkerBinary != "" {
		p, err := s.manager.StartProcess(ctx, s.nc, s.cfg.WorkerBinary, res.Location, s.codec)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to start worker for %s: %w", logPrefix, ref, err)
		}
		w = p.Worker
	} else {
		if w, err = s.manager.StartInProcess(ctx, res.Location, extensionLoader(), s.codec); err != nil {
			return nil, fmt.Errorf("%s - failed to start worker for %s: %w", logPrefix, ref, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - Starting %s@%s from %s", logPrefix, res.Name, res.Version, res.Location))

	go func() {
		if err := w.WaitInit(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - extension %s did not initialize: %v", logPrefix, ref, err))
		}
	}()
	return w, nil
}

func (s *Server) lifetime() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Server) closeBackends() {
	if s.nc != nil {
		s.nc.Drain()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
