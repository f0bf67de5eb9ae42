//go:build integration

package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const dbIntegrationPrefix = "db:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("db:integration_test - DATABASE_URL not set, skipping")
	}
	return url
}

func setupIntegrationDB(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	ctx := context.Background()

	pool, err := NewPool(ctx, testDBEnv(t), &PoolOpts{ApplicationName: "extension-workers-test"})
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", dbIntegrationPrefix, err)
	}
	t.Cleanup(pool.Close)

	migrations, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - LoadMigrationFiles failed: %v", dbIntegrationPrefix, err)
	}
	if err := RunMigrations(ctx, pool, migrations); err != nil {
		t.Fatalf("%s - RunMigrations failed: %v", dbIntegrationPrefix, err)
	}
	// A second run must find nothing to do.
	if err := RunMigrations(ctx, pool, migrations); err != nil {
		t.Fatalf("%s - RunMigrations (second run) failed: %v", dbIntegrationPrefix, err)
	}
	return ctx, NewRepository(pool)
}

func TestIntegration_WorkerLifecycle(t *testing.T) {
	ctx, repo := setupIntegrationDB(t)

	id, err := repo.NextWorkerID(ctx)
	if err != nil {
		t.Fatalf("%s - NextWorkerID: %v", dbIntegrationPrefix, err)
	}
	next, err := repo.NextWorkerID(ctx)
	if err != nil || next <= id {
		t.Fatalf("%s - NextWorkerID not increasing: %d then %d (%v)", dbIntegrationPrefix, id, next, err)
	}
	t.Cleanup(func() { repo.DeleteWorker(context.Background(), id) })

	if err := repo.SaveWorker(ctx, WorkerRecord{ID: id, Location: "builtin://text", State: "allocated"}); err != nil {
		t.Fatalf("%s - SaveWorker: %v", dbIntegrationPrefix, err)
	}
	for _, name := range []string{"extension.x.1", "extension.x.0", "extension.x.0"} {
		if err := repo.AddService(ctx, id, name); err != nil {
			t.Fatalf("%s - AddService %s: %v", dbIntegrationPrefix, name, err)
		}
	}
	if err := repo.SaveWorker(ctx, WorkerRecord{ID: id, Location: "builtin://text", State: "failed", Error: "boom"}); err != nil {
		t.Fatalf("%s - SaveWorker update: %v", dbIntegrationPrefix, err)
	}

	rec, err := repo.GetWorker(ctx, id)
	if err != nil {
		t.Fatalf("%s - GetWorker: %v", dbIntegrationPrefix, err)
	}
	if rec.State != "failed" || rec.Error != "boom" {
		t.Errorf("%s - unexpected record %+v", dbIntegrationPrefix, rec)
	}
	if len(rec.Services) != 2 || rec.Services[0] != "extension.x.0" {
		t.Errorf("%s - services = %v", dbIntegrationPrefix, rec.Services)
	}

	all, err := repo.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("%s - ListWorkers: %v", dbIntegrationPrefix, err)
	}
	found := false
	for _, w := range all {
		found = found || w.ID == id
	}
	if !found {
		t.Errorf("%s - worker %d missing from ListWorkers", dbIntegrationPrefix, id)
	}

	if err := repo.DeleteWorker(ctx, id); err != nil {
		t.Fatalf("%s - DeleteWorker: %v", dbIntegrationPrefix, err)
	}
	if _, err := repo.GetWorker(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("%s - GetWorker after delete err = %v, want ErrNotFound", dbIntegrationPrefix, err)
	}
}

func TestIntegration_ClearWorkers(t *testing.T) {
	ctx, repo := setupIntegrationDB(t)

	id, err := repo.NextWorkerID(ctx)
	if err != nil {
		t.Fatalf("%s - NextWorkerID failed: %v", dbIntegrationPrefix, err)
	}
	if err := repo.SaveWorker(ctx, WorkerRecord{ID: id, Location: "builtin://text", State: "ready"}); err != nil {
		t.Fatalf("%s - SaveWorker failed: %v", dbIntegrationPrefix, err)
	}
	if err := ClearWorkers(ctx, repo.pool); err != nil {
		t.Fatalf("%s - ClearWorkers failed: %v", dbIntegrationPrefix, err)
	}
	if _, err := repo.GetWorker(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("%s - GetWorker after clear = %v, want ErrNotFound", dbIntegrationPrefix, err)
	}
	next, err := repo.NextWorkerID(ctx)
	if err != nil || next <= id {
		t.Errorf("%s - NextWorkerID after clear = %d, %v; want > %d", dbIntegrationPrefix, next, err, id)
	}
}
