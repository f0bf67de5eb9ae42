// Package db persists extension workers and their services in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolOpts tunes NewPool. Nil or zero values use defaults.
type PoolOpts struct {
	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string
	MaxConns        int32
	// HealthCheckPeriod is how often idle connections are checked.
	HealthCheckPeriod time.Duration
}

func (o *PoolOpts) apply(cfg *pgxpool.Config) {
	// A host writes to the store only on worker lifecycle changes.
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.ConnConfig.RuntimeParams["application_name"] = "extension-host"
	if o == nil {
		return
	}
	if o.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = o.ApplicationName
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = o.HealthCheckPeriod
	}
}

// NewPool connects to databaseURL and pings it. Pass nil opts for defaults.
func NewPool(ctx context.Context, databaseURL string, opts *PoolOpts) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%s - database URL is empty", logPrefix)
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	opts.apply(cfg)

	slog.Info(fmt.Sprintf("%s - Connecting to %s@%s:%d/%s as %s", logPrefix,
		cfg.ConnConfig.User, cfg.ConnConfig.Host, cfg.ConnConfig.Port, cfg.ConnConfig.Database,
		cfg.ConnConfig.RuntimeParams["application_name"]))

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}
	return pool, nil
}
