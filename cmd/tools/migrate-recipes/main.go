// Command migrate-recipes copies every recipe from one datastore into another
// (JSON, Postgres or MongoDB). Identifiers are assigned by the destination.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"recipe-api/internal/models"
	"recipe-api/internal/observability/logging"
	"recipe-api/internal/storage"
)

const defaultBatchSize = 500

func main() {
	from := flag.String("from", "json", "source driver (json, postgres or mongo)")
	fromJSON := flag.String("from-json", "data/recipes.json", "path of the source JSON datastore")
	fromPostgres := flag.String("from-postgres-dsn", "", "source Postgres connection string")
	fromMongo := flag.String("from-mongo-uri", "", "source MongoDB connection string")
	to := flag.String("to", "postgres", "destination driver (json, postgres or mongo)")
	toJSON := flag.String("to-json", "", "path of the destination JSON datastore")
	toPostgres := flag.String("to-postgres-dsn", "", "destination Postgres connection string")
	toMongo := flag.String("to-mongo-uri", "", "destination MongoDB connection string")
	mongoDatabase := flag.String("mongo-database", "", "MongoDB database holding recipes")
	batchSize := flag.Int("batch", defaultBatchSize, "recipes inserted per batch")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: string(logging.FormatText)})
	ctx := context.Background()

	source, err := openEndpoint(ctx, endpointConfig{
		Driver:        *from,
		JSONPath:      *fromJSON,
		PostgresDSN:   *fromPostgres,
		MongoURI:      *fromMongo,
		MongoDatabase: *mongoDatabase,
	}, logger)
	if err != nil {
		logger.Error("failed to open source", "driver", *from, "error", err)
		os.Exit(1)
	}
	defer closeEndpoint(logger, "source", source)

	destination, err := openEndpoint(ctx, endpointConfig{
		Driver:        *to,
		JSONPath:      *toJSON,
		PostgresDSN:   firstNonEmpty(*toPostgres, os.Getenv("RECIPES_STORAGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		MongoURI:      firstNonEmpty(*toMongo, os.Getenv("RECIPES_STORAGE_MONGO_URI")),
		MongoDatabase: *mongoDatabase,
	}, logger)
	if err != nil {
		logger.Error("failed to open destination", "driver", *to, "error", err)
		closeEndpoint(logger, "source", source)
		os.Exit(1)
	}
	defer closeEndpoint(logger, "destination", destination)

	copied, err := migrate(ctx, source, destination, *batchSize, logger)
	if err != nil {
		logger.Error("migration failed", "copied", copied, "error", err)
		closeEndpoint(logger, "destination", destination)
		closeEndpoint(logger, "source", source)
		os.Exit(1)
	}
	logger.Info("migration completed", "recipes", copied, "from", *from, "to", *to)
}

type endpointConfig struct {
	Driver        string
	JSONPath      string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
}

func openEndpoint(ctx context.Context, cfg endpointConfig, logger *slog.Logger) (storage.Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres":
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres DSN required")
		}
		return storage.NewPostgresRepository(ctx, cfg.PostgresDSN,
			storage.WithLogger(logger),
			storage.WithPostgresApplicationName("recipe-migrate"))
	case "mongo":
		if strings.TrimSpace(cfg.MongoURI) == "" {
			return nil, errors.New("mongo URI required")
		}
		return storage.NewMongoRepository(ctx, cfg.MongoURI,
			storage.WithLogger(logger),
			storage.WithMongoNamespace(cfg.MongoDatabase, ""),
			storage.WithMongoAppName("recipe-migrate"))
	case "json":
		if strings.TrimSpace(cfg.JSONPath) == "" {
			return nil, errors.New("JSON datastore path required")
		}
		return storage.NewJSONRepository(cfg.JSONPath, storage.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func closeEndpoint(logger *slog.Logger, name string, repo storage.Repository) {
	if err := storage.Close(context.Background(), repo); err != nil {
		logger.Warn("failed to close datastore", "endpoint", name, "error", err)
	}
}

// migrate copies every recipe in source into destination in batches and
// verifies the destination grew by the number copied.
func migrate(ctx context.Context, source, destination storage.Repository, batchSize int, logger *slog.Logger) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	recipes, err := listAll(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("list source: %w", err)
	}
	before, err := listAll(ctx, destination)
	if err != nil {
		return 0, fmt.Errorf("list destination: %w", err)
	}
	logger.Info("loaded source recipes", "recipes", len(recipes), "destination_existing", len(before))

	copied := 0
	for start := 0; start < len(recipes); start += batchSize {
		end := min(start+batchSize, len(recipes))
		batch := make([]models.Recipe, end-start)
		copy(batch, recipes[start:end])
		for i := range batch {
			batch[i].ID = ""
		}
		outcome := destination.InsertRecipes(ctx, batch)
		inserted, ok := outcome.Value()
		if !ok {
			if outcome.IsAbsent() {
				return copied, fmt.Errorf("insert batch at %d: nothing inserted", start)
			}
			return copied, fmt.Errorf("insert batch at %d: %w", start, outcome.Err())
		}
		copied += len(inserted)
		logger.Info("batch inserted", "offset", start, "recipes", len(inserted))
	}

	after, err := listAll(ctx, destination)
	if err != nil {
		return copied, fmt.Errorf("list destination: %w", err)
	}
	if len(after)-len(before) != len(recipes) {
		return copied, fmt.Errorf("verification mismatch: expected %d new recipes, destination grew by %d", len(recipes), len(after)-len(before))
	}
	return copied, nil
}

func listAll(ctx context.Context, repo storage.Repository) ([]models.Recipe, error) {
	outcome := repo.ListRecipes(ctx, nil)
	if recipes, ok := outcome.Value(); ok {
		return recipes, nil
	}
	if outcome.IsAbsent() {
		return nil, nil
	}
	return nil, outcome.Err()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
