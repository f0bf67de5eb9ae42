package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearWorkers removes every stored worker and service record. The schema and
// the worker id sequence are left alone so identities are never reused.
func ClearWorkers(ctx context.Context, pool *pgxpool.Pool) error {
	tag, err := pool.Exec(ctx, `DELETE FROM extension_workers`)
	if err != nil {
		return fmt.Errorf("%s - failed to clear workers: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - removed %d worker records", clearLogPrefix, tag.RowsAffected()))
	return nil
}
