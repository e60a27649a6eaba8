package storage

import (
	"log/slog"
	"time"
)

const defaultPostgresAcquireTimeout = 5 * time.Second

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	Logger              *slog.Logger
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		AcquireTimeout:  defaultPostgresAcquireTimeout,
		ApplicationName: "recipe-api",
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
