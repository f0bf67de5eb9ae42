package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewPool_RejectsBadURLs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, url := range []string{"", "invalid://not-a-valid-database-url", "postgres://user@127.0.0.1:1/none?connect_timeout=1"} {
		pool, err := NewPool(ctx, url, nil)
		if err == nil {
			pool.Close()
			t.Errorf("db:pool_test - expected error for %q", url)
			continue
		}
		if pool != nil {
			t.Errorf("db:pool_test - expected nil pool on error for %q", url)
		}
	}
}

func TestPoolOpts_Apply(t *testing.T) {
	tests := []struct {
		name     string
		opts     *PoolOpts
		wantMax  int32
		wantName string
		wantHC   time.Duration
	}{
		{"nil opts", nil, 4, "extension-host", time.Minute},
		{"overrides", &PoolOpts{ApplicationName: "migrate", MaxConns: 2, HealthCheckPeriod: 5 * time.Second}, 2, "migrate", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := pgxpool.ParseConfig("postgres://user@localhost:5432/db")
			if err != nil {
				t.Fatalf("db:pool_test - ParseConfig: %v", err)
			}
			tt.opts.apply(cfg)
			if cfg.MaxConns != tt.wantMax || cfg.MinConns != 1 {
				t.Errorf("db:pool_test - conns = %d/%d, want %d/1", cfg.MaxConns, cfg.MinConns, tt.wantMax)
			}
			if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != tt.wantName {
				t.Errorf("db:pool_test - application_name = %q, want %q", got, tt.wantName)
			}
			if cfg.HealthCheckPeriod != tt.wantHC {
				t.Errorf("db:pool_test - HealthCheckPeriod = %v, want %v", cfg.HealthCheckPeriod, tt.wantHC)
			}
		})
	}
}
