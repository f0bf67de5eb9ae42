// Package config provides host and worker configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/extension-workers/pkg/commsutil"
)

const logPrefix = "config:LoadConfig"

// Config holds extension host and worker configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"extension-host"`
	// WireCodec encodes channel messages and events ("json" or "cbor").
	WireCodec string `envconfig:"WIRE_CODEC" default:"json"`

	// Worker side: the session to join, set by the host when it spawns a worker.
	WorkerSession string `envconfig:"WORKER_SESSION"`

	// Host side: empty WorkerBinary runs workers in-process over pipes.
	WorkerBinary string   `envconfig:"WORKER_BINARY"`
	Extensions   []string `envconfig:"EXTENSIONS"`
	CatalogFile  string   `envconfig:"EXTENSION_CATALOG_FILE"`

	// Database: empty DatabaseURL keeps worker records in memory.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP (HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	// BlockCallTimeout bounds how long an HTTP block call waits for its result.
	BlockCallTimeout time.Duration `envconfig:"BLOCK_CALL_TIMEOUT" default:"30s"`
	// MaxBodyBytes caps HTTP request bodies; larger ones get 413.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	EventSubjectPrefix string `envconfig:"EVENT_SUBJECT_PREFIX" default:"extensions.worker"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	c.Extensions = trimAll(c.Extensions)
	return &c, nil
}

// Codec returns the configured wire codec.
func (c *Config) Codec() (commsutil.Codec, error) {
	return commsutil.CodecByName(c.WireCodec)
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForHost checks required config when running the extension host.
func (c *Config) ValidateForHost() error {
	if _, err := c.Codec(); err != nil {
		return fmt.Errorf("%s - WIRE_CODEC: %w", logPrefix, err)
	}
	if c.HTTPAddr == "" && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("%s - HTTP_PORT %d out of range", logPrefix, c.HTTPPort)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.BlockCallTimeout <= 0 {
		return fmt.Errorf("%s - BLOCK_CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForWorker checks required config when running a worker process.
func (c *Config) ValidateForWorker() error {
	if c.WorkerSession == "" {
		return fmt.Errorf("%s - WORKER_SESSION is required for a worker", logPrefix)
	}
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for a worker", logPrefix)
	}
	if _, err := c.Codec(); err != nil {
		return fmt.Errorf("%s - WIRE_CODEC: %w", logPrefix, err)
	}
	return nil
}

// ValidateForDB checks required config when running DB commands (migrate).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
