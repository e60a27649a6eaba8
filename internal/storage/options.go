package storage

import (
	"log/slog"
	"strings"
	"time"
)

// Option tunes a repository at construction time. Options that do not apply to
// a driver are ignored by it.
type Option interface {
	applyJSON(*Storage)
	applyPostgres(*PostgresConfig)
	applyMongo(*MongoConfig)
}

type optionAdapter struct {
	json  func(*Storage)
	pg    func(*PostgresConfig)
	mongo func(*MongoConfig)
}

func (o optionAdapter) applyJSON(store *Storage) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func (o optionAdapter) applyMongo(cfg *MongoConfig) {
	if o.mongo != nil && cfg != nil {
		o.mongo(cfg)
	}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

func mongoOnlyOption(mongo func(*MongoConfig)) Option {
	return optionAdapter{mongo: mongo}
}

// WithLogger sets the logger every driver uses for its own diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return optionAdapter{
		json: func(s *Storage) {
			if logger != nil {
				s.logger = logger
			}
		},
		pg: func(cfg *PostgresConfig) {
			if logger != nil {
				cfg.Logger = logger
			}
		},
		mongo: func(cfg *MongoConfig) {
			if logger != nil {
				cfg.Logger = logger
			}
		},
	}
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns > 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout configures how long the repository waits to obtain a
// connection from the pool. The same deadline is reused for the statement
// executed with that connection.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}

// WithMongoNamespace selects the database and collection holding recipes.
func WithMongoNamespace(database, collection string) Option {
	return mongoOnlyOption(func(cfg *MongoConfig) {
		if trimmed := strings.TrimSpace(database); trimmed != "" {
			cfg.Database = trimmed
		}
		if trimmed := strings.TrimSpace(collection); trimmed != "" {
			cfg.Collection = trimmed
		}
	})
}

// WithMongoTimeouts bounds connection establishment and server selection.
func WithMongoTimeouts(connect, serverSelection time.Duration) Option {
	return mongoOnlyOption(func(cfg *MongoConfig) {
		if connect > 0 {
			cfg.ConnectTimeout = connect
		}
		if serverSelection > 0 {
			cfg.ServerSelectionTimeout = serverSelection
		}
	})
}

func WithMongoPoolSize(maxPool, minPool uint64) Option {
	return mongoOnlyOption(func(cfg *MongoConfig) {
		if maxPool > 0 {
			cfg.MaxPoolSize = maxPool
		}
		cfg.MinPoolSize = minPool
	})
}

func WithMongoAppName(name string) Option {
	return mongoOnlyOption(func(cfg *MongoConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.AppName = trimmed
		}
	})
}
