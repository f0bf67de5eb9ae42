package db

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeMigrations(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("db:migrations_test - failed to write %s: %v", name, err)
		}
	}
}

func TestLoadMigrationFiles_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
		"README.md":       "# Migrations",
		"notes.txt":       "some notes",
	})
	// A directory with a .sql suffix is not a migration.
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatalf("db:migrations_test - failed to create subdir: %v", err)
	}

	got, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}

	want := []Migration{
		{Name: "0001_first.sql", SQL: "FIRST"},
		{Name: "0002_second.sql", SQL: "SECOND"},
		{Name: "0003_third.sql", SQL: "THIRD"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("db:migrations_test - got %+v, want %+v", got, want)
	}
}

func TestLoadMigrationFiles_EmptyDir(t *testing.T) {
	got, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("db:migrations_test - expected empty result, got %d items", len(got))
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Error("db:migrations_test - expected error for non-existent directory")
	}
}

func TestLoadMigrationFiles_RepositoryMigrations(t *testing.T) {
	got, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("db:migrations_test - unexpected error: %v", err)
	}
	if len(got) == 0 || got[0].Name != "0001_extension_workers.sql" {
		t.Errorf("db:migrations_test - unexpected repository migrations %+v", got)
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{{Name: "0001"}, {Name: "0002"}, {Name: "0003"}}

	tests := []struct {
		name    string
		applied map[string]bool
		want    []string
	}{
		{"none applied", nil, []string{"0001", "0002", "0003"}},
		{"first applied", map[string]bool{"0001": true}, []string{"0002", "0003"}},
		{"gap keeps order", map[string]bool{"0002": true}, []string{"0001", "0003"}},
		{"all applied", map[string]bool{"0001": true, "0002": true, "0003": true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, m := range PendingMigrations(all, tt.applied) {
				got = append(got, m.Name)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("db:migrations_test - PendingMigrations = %v, want %v", got, tt.want)
			}
		})
	}
}
