// Package config assembles the recipe server configuration from defaults, an
// optional YAML file, an optional .env file and RECIPES_* environment
// variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"recipe-api/internal/observability/logging"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RECIPES_"

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	DriverJSON     = "json"
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Mode            string        `yaml:"mode" env:"MODE"`
	Addr            string        `yaml:"addr" env:"ADDR"`
	LogLevel        string        `yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"logFormat" env:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"corsOrigins" env:"CORS_ORIGINS" envSeparator:","`

	TLS       TLSConfig       `yaml:"tls" envPrefix:"TLS_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	RateLimit RateLimitConfig `yaml:"rateLimit" envPrefix:"RATE_"`
}

type TLSConfig struct {
	CertFile string `yaml:"certFile" env:"CERT"`
	KeyFile  string `yaml:"keyFile" env:"KEY"`
}

type StorageConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"`
	JSONPath string `yaml:"jsonPath" env:"JSON_PATH"`
	// MonitorInterval is how often the server pings the datastore in the
	// background. Zero disables the monitor.
	MonitorInterval time.Duration  `yaml:"monitorInterval" env:"MONITOR_INTERVAL"`
	Postgres        PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
	Mongo           MongoConfig    `yaml:"mongo" envPrefix:"MONGO_"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxConns        int32         `yaml:"maxConns" env:"MAX_CONNS"`
	MinConns        int32         `yaml:"minConns" env:"MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime" env:"MAX_CONN_LIFETIME"`
	MaxConnIdle     time.Duration `yaml:"maxConnIdle" env:"MAX_CONN_IDLE"`
	HealthInterval  time.Duration `yaml:"healthInterval" env:"HEALTH_INTERVAL"`
	AcquireTimeout  time.Duration `yaml:"acquireTimeout" env:"ACQUIRE_TIMEOUT"`
	AppName         string        `yaml:"appName" env:"APP_NAME"`
}

type MongoConfig struct {
	URI                    string        `yaml:"uri" env:"URI"`
	Database               string        `yaml:"database" env:"DATABASE"`
	Collection             string        `yaml:"collection" env:"COLLECTION"`
	ConnectTimeout         time.Duration `yaml:"connectTimeout" env:"CONNECT_TIMEOUT"`
	ServerSelectionTimeout time.Duration `yaml:"serverSelectionTimeout" env:"SERVER_SELECTION_TIMEOUT"`
	MaxPoolSize            uint64        `yaml:"maxPoolSize" env:"MAX_POOL_SIZE"`
	MinPoolSize            uint64        `yaml:"minPoolSize" env:"MIN_POOL_SIZE"`
	AppName                string        `yaml:"appName" env:"APP_NAME"`
}

// RedisConfig describes the Redis deployment shared by the cache and the
// write rate limiter. An empty address list disables both.
type RedisConfig struct {
	Addrs      []string      `yaml:"addrs" env:"ADDRS" envSeparator:","`
	Username   string        `yaml:"username" env:"USERNAME"`
	Password   string        `yaml:"password" env:"PASSWORD"`
	DB         int           `yaml:"db" env:"DB"`
	MasterName string        `yaml:"masterName" env:"MASTER_NAME"`
	PoolSize   int           `yaml:"poolSize" env:"POOL_SIZE"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Enabled reports whether a Redis deployment is configured.
func (r RedisConfig) Enabled() bool {
	return len(r.Addrs) > 0
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
	Prefix  string        `yaml:"prefix" env:"PREFIX"`
}

type RateLimitConfig struct {
	GlobalRPS   float64       `yaml:"globalRPS" env:"GLOBAL_RPS"`
	GlobalBurst int           `yaml:"globalBurst" env:"GLOBAL_BURST"`
	WriteLimit  int           `yaml:"writeLimit" env:"WRITE_LIMIT"`
	WriteWindow time.Duration `yaml:"writeWindow" env:"WRITE_WINDOW"`
	// Distributed shares write counters through Redis when it is configured.
	Distributed bool `yaml:"distributed" env:"DISTRIBUTED"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Mode:            ModeDevelopment,
		Addr:            ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
		Storage: StorageConfig{
			Driver:          DriverJSON,
			JSONPath:        "data/recipes.json",
			MonitorInterval: 30 * time.Second,
			Postgres: PostgresConfig{
				AcquireTimeout: 5 * time.Second,
				AppName:        "recipe-api",
			},
			Mongo: MongoConfig{
				Database:               "recipes",
				Collection:             "recipes",
				ConnectTimeout:         10 * time.Second,
				ServerSelectionTimeout: 5 * time.Second,
				AppName:                "recipe-api",
			},
		},
		Redis: RedisConfig{
			Timeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			TTL:    5 * time.Minute,
			Prefix: "recipes:",
		},
		RateLimit: RateLimitConfig{
			WriteWindow: time.Minute,
		},
	}
}

// LoadOptions locates the configuration sources. Environ defaults to the
// process environment.
type LoadOptions struct {
	// Path of a YAML file. When empty, RECIPES_CONFIG is consulted.
	Path string
	// DotEnvPath names a .env file. The default ".env" may be missing; an
	// explicitly named file may not.
	DotEnvPath string
	Environ    []string
}

// Load builds a Config from defaults, YAML, .env and environment variables.
// Values from the real environment always win over the .env file. The
// result is not validated; call Validate once flag overrides are applied.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	environment := toMap(environ)

	dotenvPath := opts.DotEnvPath
	requireDotenv := dotenvPath != ""
	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	dotenv, err := godotenv.Read(dotenvPath)
	switch {
	case err == nil:
		for key, value := range dotenv {
			if _, set := environment[key]; !set {
				environment[key] = value
			}
		}
	case errors.Is(err, fs.ErrNotExist) && !requireDotenv:
	default:
		return Config{}, fmt.Errorf("read env file %s: %w", dotenvPath, err)
	}

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = strings.TrimSpace(environment[EnvPrefix+"CONFIG"])
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environment,
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func toMap(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		values[key] = value
	}
	return values
}

// Validate reports every inconsistency in cfg at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode))
	}
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	switch c.Storage.Driver {
	case DriverJSON:
		if strings.TrimSpace(c.Storage.JSONPath) == "" {
			errs = append(errs, errors.New("storage.jsonPath is required for the json driver"))
		}
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
		if c.Storage.Postgres.MinConns > c.Storage.Postgres.MaxConns && c.Storage.Postgres.MaxConns > 0 {
			errs = append(errs, errors.New("storage.postgres.minConns exceeds maxConns"))
		}
	case DriverMongo:
		if strings.TrimSpace(c.Storage.Mongo.URI) == "" {
			errs = append(errs, errors.New("storage.mongo.uri is required for the mongo driver"))
		}
		if c.Storage.Mongo.MinPoolSize > c.Storage.Mongo.MaxPoolSize && c.Storage.Mongo.MaxPoolSize > 0 {
			errs = append(errs, errors.New("storage.mongo.minPoolSize exceeds maxPoolSize"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Mode == ModeProduction && c.Storage.Driver != DriverMongo && c.Storage.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("production mode requires the mongo or postgres driver, got %q", c.Storage.Driver))
	}

	if (strings.TrimSpace(c.TLS.CertFile) == "") != (strings.TrimSpace(c.TLS.KeyFile) == "") {
		errs = append(errs, errors.New("tls cert and key must be provided together"))
	}

	if c.Cache.Enabled && !c.Redis.Enabled() {
		errs = append(errs, errors.New("cache requires redis.addrs"))
	}
	if c.RateLimit.Distributed && !c.Redis.Enabled() {
		errs = append(errs, errors.New("distributed rate limiting requires redis.addrs"))
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 || c.RateLimit.WriteLimit < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}

	return errors.Join(errs...)
}
