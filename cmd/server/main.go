// Command server starts the recipe API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"recipe-api/internal/api"
	"recipe-api/internal/config"
	"recipe-api/internal/observability/logging"
	"recipe-api/internal/observability/metrics"
	"recipe-api/internal/recipes"
	"recipe-api/internal/server"
	"recipe-api/internal/storage"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], nil)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger, nil)
	stop()
	if err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// flagOverrides holds command line values. Only flags that were actually set
// replace the loaded configuration.
type flagOverrides struct {
	configPath  string
	envFile     string
	mode        string
	addr        string
	logLevel    string
	logFormat   string
	driver      string
	dataPath    string
	postgresDSN string
	mongoURI    string
	redisAddrs  string
	cache       bool
	tlsCert     string
	tlsKey      string
	globalRPS   float64
	globalBurst int
	writeLimit  int
	writeWindow time.Duration
}

func loadConfig(args []string, environ []string) (config.Config, error) {
	var overrides flagOverrides
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&overrides.configPath, "config", "", "path to a YAML configuration file")
	fs.StringVar(&overrides.envFile, "env-file", "", "path to a .env file (defaults to ./.env when present)")
	fs.StringVar(&overrides.mode, "mode", "", "server runtime mode (development or production)")
	fs.StringVar(&overrides.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&overrides.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&overrides.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&overrides.driver, "storage-driver", "", "datastore driver (json, memory, mongo or postgres)")
	fs.StringVar(&overrides.dataPath, "data", "", "path to the JSON datastore")
	fs.StringVar(&overrides.postgresDSN, "postgres-dsn", "", "Postgres connection string")
	fs.StringVar(&overrides.mongoURI, "mongo-uri", "", "MongoDB connection string")
	fs.StringVar(&overrides.redisAddrs, "redis-addrs", "", "comma separated Redis addresses for the cache and rate limiter")
	fs.BoolVar(&overrides.cache, "cache", false, "cache recipe reads in Redis")
	fs.StringVar(&overrides.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&overrides.tlsKey, "tls-key", "", "path to TLS private key file")
	fs.Float64Var(&overrides.globalRPS, "rate-global-rps", 0, "global request rate limit in requests per second")
	fs.IntVar(&overrides.globalBurst, "rate-global-burst", 0, "global rate limit burst allowance")
	fs.IntVar(&overrides.writeLimit, "rate-write-limit", 0, "maximum write requests per window for a single client")
	fs.DurationVar(&overrides.writeWindow, "rate-write-window", 0, "window for counting write requests")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(config.LoadOptions{
		Path:       overrides.configPath,
		DotEnvPath: overrides.envFile,
		Environ:    environ,
	})
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = overrides.mode
		case "addr":
			cfg.Addr = overrides.addr
		case "log-level":
			cfg.LogLevel = overrides.logLevel
		case "log-format":
			cfg.LogFormat = overrides.logFormat
		case "storage-driver":
			cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(overrides.driver))
		case "data":
			cfg.Storage.JSONPath = overrides.dataPath
		case "postgres-dsn":
			cfg.Storage.Postgres.DSN = overrides.postgresDSN
		case "mongo-uri":
			cfg.Storage.Mongo.URI = overrides.mongoURI
		case "redis-addrs":
			cfg.Redis.Addrs = splitAndTrim(overrides.redisAddrs)
		case "cache":
			cfg.Cache.Enabled = overrides.cache
		case "tls-cert":
			cfg.TLS.CertFile = overrides.tlsCert
		case "tls-key":
			cfg.TLS.KeyFile = overrides.tlsKey
		case "rate-global-rps":
			cfg.RateLimit.GlobalRPS = overrides.globalRPS
		case "rate-global-burst":
			cfg.RateLimit.GlobalBurst = overrides.globalBurst
		case "rate-write-limit":
			cfg.RateLimit.WriteLimit = overrides.writeLimit
		case "rate-write-window":
			cfg.RateLimit.WriteWindow = overrides.writeWindow
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// run wires the datastore, cache, service and HTTP server described by cfg
// and serves until ctx is cancelled. ready, when set, receives the bound
// listener address.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ready func(net.Addr)) error {
	recorder := metrics.New()
	metrics.SetDefault(recorder)

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := storage.Close(closeCtx, repo); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}()

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled() {
		redisClient = newRedisClient(cfg.Redis)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}()
	}

	if cfg.Cache.Enabled && redisClient != nil {
		repo = storage.NewCachedRepository(repo, redisClient, storage.CacheConfig{
			TTL:      cfg.Cache.TTL,
			Prefix:   cfg.Cache.Prefix,
			Logger:   logger,
			OnLookup: recorder.ObserveCacheLookup,
		})
	}

	service := recipes.NewService(repo,
		recipes.WithLogger(logger),
		recipes.WithObserver(recorder),
	)
	handler := api.NewHandler(service)
	if redisClient != nil {
		handler.Probes = map[string]api.Pinger{
			"redis": api.PingerFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		}
	}

	rateCfg := server.RateLimitConfig{
		GlobalRPS:   cfg.RateLimit.GlobalRPS,
		GlobalBurst: cfg.RateLimit.GlobalBurst,
		WriteLimit:  cfg.RateLimit.WriteLimit,
		WriteWindow: cfg.RateLimit.WriteWindow,
	}
	if cfg.RateLimit.Distributed {
		rateCfg.Redis = redisClient
	}

	srv, err := server.New(handler, server.Config{
		Addr:      cfg.Addr,
		TLS:       server.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile},
		RateLimit: rateCfg,
		CORS:      server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		return fmt.Errorf("initialise server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx, cfg.ShutdownTimeout, func(addr net.Addr) {
			logger.Info("recipe api listening",
				"addr", addr.String(),
				"mode", cfg.Mode,
				"storage_driver", cfg.Storage.Driver,
				"cache", cfg.Cache.Enabled,
				"tls", cfg.TLS.CertFile != "")
			if ready != nil {
				ready(addr)
			}
		})
	})
	group.Go(func() error {
		return monitorDatastore(groupCtx, logging.WithComponent(logger, "datastore-monitor"), service, cfg.Storage.MonitorInterval)
	})
	return group.Wait()
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Repository, error) {
	storageLogger := logging.WithComponent(logger, "storage")
	switch cfg.Storage.Driver {
	case config.DriverJSON:
		return storage.NewJSONRepository(cfg.Storage.JSONPath, storage.WithLogger(storageLogger))
	case config.DriverMemory:
		return storage.NewMemoryRepository(storage.WithLogger(storageLogger)), nil
	case config.DriverPostgres:
		pg := cfg.Storage.Postgres
		return storage.NewPostgresRepository(ctx, pg.DSN,
			storage.WithLogger(storageLogger),
			storage.WithPostgresPoolLimits(pg.MaxConns, pg.MinConns),
			storage.WithPostgresPoolDurations(pg.MaxConnLifetime, pg.MaxConnIdle, pg.HealthInterval),
			storage.WithPostgresAcquireTimeout(pg.AcquireTimeout),
			storage.WithPostgresApplicationName(pg.AppName),
		)
	case config.DriverMongo:
		mongo := cfg.Storage.Mongo
		return storage.NewMongoRepository(ctx, mongo.URI,
			storage.WithLogger(storageLogger),
			storage.WithMongoNamespace(mongo.Database, mongo.Collection),
			storage.WithMongoTimeouts(mongo.ConnectTimeout, mongo.ServerSelectionTimeout),
			storage.WithMongoPoolSize(mongo.MaxPoolSize, mongo.MinPoolSize),
			storage.WithMongoAppName(mongo.AppName),
		)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MasterName:   cfg.MasterName,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
