// Package main is the entrypoint for the extension host.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/extension-workers/internal/config"
	"github.com/morezero/extension-workers/internal/server"
	"github.com/morezero/extension-workers/pkg/db"
)

const usage = `Usage: extension-host [command]
       extension-host serve            Start the host (NATS, workers, HTTP).
       extension-host migrate up       Run database migrations.
       extension-host migrate status   Show migration status.
       extension-host clear            Delete stored worker records; schema and id sequence are kept.

Commands:
  serve           (default) Start the extension host and the workers named by EXTENSIONS.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  clear           Delete worker and service records.

Environment: COMMS_URL, WORKER_BINARY (empty runs workers in-process), EXTENSIONS,
EXTENSION_CATALOG_FILE, DATABASE_URL (empty keeps records in memory; required for
migrate and clear), MIGRATION_PATH, HTTP_ADDR / HTTP_PORT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("extension-host migrate: require subcommand (up, status)")
		}
		switch sub := args[1]; sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("extension-host migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("extension-host migrate status: %v", err)
			}
		default:
			log.Fatalf("extension-host migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("extension-host clear: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.RunHost(); err != nil {
		log.Fatalf("extension-host: %v", err)
	}
}

// withPool loads config, requires DATABASE_URL and runs fn against a fresh pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, &db.PoolOpts{ApplicationName: "extension-host-cli", MaxConns: 1})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		return db.ClearWorkers(ctx, pool)
	})
}
