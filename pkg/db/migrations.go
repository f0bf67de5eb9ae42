package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS extension_schema_migrations (
	name    TEXT PRIMARY KEY,
	applied TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrationFiles reads all .sql files from dir, sorted by name.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// RunMigrations applies every migration not yet recorded as applied, each in
// its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%s - failed to create migrations table: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	pending := PendingMigrations(migrations, applied)
	slog.Info(fmt.Sprintf("%s - Running %d of %d migrations", migrationsLogPrefix, len(pending), len(migrations)))

	for _, m := range pending {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO extension_schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", migrationsLogPrefix, m.Name))
	}
	return nil
}

// MigrationStatus prints which migrations in migrationPath are applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) error {
	migrations, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%s - failed to create migrations table: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		status := "pending"
		if applied[m.Name] {
			status = "applied"
		}
		fmt.Printf("%-40s %s\n", m.Name, status)
	}
	return nil
}

// PendingMigrations filters migrations down to those not in applied,
// keeping their order.
func PendingMigrations(migrations []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range migrations {
		if !applied[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM extension_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan applied migrations: %w", migrationsLogPrefix, err)
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}
