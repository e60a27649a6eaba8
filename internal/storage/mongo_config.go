package storage

import (
	"log/slog"
	"time"
)

const (
	defaultMongoDatabase               = "recipes"
	defaultMongoCollection             = "recipes"
	defaultMongoConnectTimeout         = 10 * time.Second
	defaultMongoServerSelectionTimeout = 5 * time.Second
)

// MongoConfig describes the MongoDB deployment and namespace holding recipes.
type MongoConfig struct {
	URI                    string
	Database               string
	Collection             string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
	MinPoolSize            uint64
	AppName                string
	Logger                 *slog.Logger
}

func newMongoConfig(uri string, opts ...Option) MongoConfig {
	cfg := MongoConfig{
		URI:                    uri,
		Database:               defaultMongoDatabase,
		Collection:             defaultMongoCollection,
		ConnectTimeout:         defaultMongoConnectTimeout,
		ServerSelectionTimeout: defaultMongoServerSelectionTimeout,
		AppName:                "recipe-api",
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyMongo(&cfg)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
