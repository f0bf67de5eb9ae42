package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository stores workers and their extension services.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NextWorkerID draws a worker identity that is unique across host restarts.
func (r *Repository) NextWorkerID(ctx context.Context) (int, error) {
	var id int
	if err := r.pool.QueryRow(ctx, `SELECT nextval('extension_worker_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s - failed to allocate worker id: %w", repoLogPrefix, err)
	}
	return id, nil
}

// SaveWorker inserts or updates the worker row. Services are stored separately.
func (r *Repository) SaveWorker(ctx context.Context, rec WorkerRecord) error {
	slog.Debug(fmt.Sprintf("%s - SaveWorker id=%d state=%s", repoLogPrefix, rec.ID, rec.State))

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO extension_workers (id, location, state, error, created, updated)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET location = EXCLUDED.location, state = EXCLUDED.state,
		     error = EXCLUDED.error, updated = EXCLUDED.updated`,
		rec.ID, rec.Location, rec.State, rec.Error, now)
	if err != nil {
		return fmt.Errorf("%s - failed to save worker %d: %w", repoLogPrefix, rec.ID, err)
	}
	return nil
}

// AddService records that workerID serves serviceName.
func (r *Repository) AddService(ctx context.Context, workerID int, serviceName string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO extension_services (name, worker_id) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`, serviceName, workerID)
	if err != nil {
		return fmt.Errorf("%s - failed to add service %s: %w", repoLogPrefix, serviceName, err)
	}
	return nil
}

const selectWorkers = `SELECT w.id, w.location, w.state, w.error, w.created, w.updated,
	        COALESCE(array_agg(s.name ORDER BY s.name) FILTER (WHERE s.name IS NOT NULL), '{}')
	 FROM extension_workers w
	 LEFT JOIN extension_services s ON s.worker_id = w.id`

// GetWorker returns one worker with its services, or ErrNotFound.
func (r *Repository) GetWorker(ctx context.Context, id int) (*WorkerRecord, error) {
	row := r.pool.QueryRow(ctx, selectWorkers+` WHERE w.id = $1 GROUP BY w.id`, id)
	rec, err := scanWorker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to get worker %d: %w", repoLogPrefix, id, err)
	}
	return rec, nil
}

// ListWorkers returns every worker ordered by id.
func (r *Repository) ListWorkers(ctx context.Context) ([]WorkerRecord, error) {
	rows, err := r.pool.Query(ctx, selectWorkers+` GROUP BY w.id ORDER BY w.id`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list workers: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []WorkerRecord
	for rows.Next() {
		rec, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to scan worker: %w", repoLogPrefix, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteWorker removes a worker and, by cascade, its services.
func (r *Repository) DeleteWorker(ctx context.Context, id int) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM extension_workers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s - failed to delete worker %d: %w", repoLogPrefix, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorker(row pgx.Row) (*WorkerRecord, error) {
	var rec WorkerRecord
	if err := row.Scan(&rec.ID, &rec.Location, &rec.State, &rec.Error, &rec.Created, &rec.Updated, &rec.Services); err != nil {
		return nil, err
	}
	return &rec, nil
}
