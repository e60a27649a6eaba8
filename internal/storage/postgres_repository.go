package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"recipe-api/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPostgresUnavailable is returned when the repository has no open pool.
var ErrPostgresUnavailable = errors.New("postgres repository unavailable")

type postgresRepository struct {
	pool   *pgxpool.Pool
	cfg    PostgresConfig
	logger *slog.Logger
}

// NewPostgresRepository opens a Postgres-backed repository storing each recipe
// as a JSONB document and applies the recipe schema when it is missing.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := postgresPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{
		pool:   pool,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// postgresPoolConfig parses the DSN and applies the explicit pool settings.
// Unset settings keep whatever the DSN or pgx defaults chose.
func postgresPoolConfig(cfg PostgresConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	return poolCfg, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// withConn acquires a pooled connection bounded by the acquire timeout. The
// caller's context still governs the statement itself.
func (r *postgresRepository) withConn(ctx context.Context, fn func(context.Context, *pgxpool.Conn) error) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	acquireCtx := ctx
	if r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}
	conn, err := r.pool.Acquire(acquireCtx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
}

func (r *postgresRepository) GetRecipe(ctx context.Context, id string) Outcome[models.Recipe] {
	var (
		recipe models.Recipe
		found  bool
	)
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var document []byte
		err := conn.QueryRow(ctx, `SELECT document FROM recipes WHERE id = $1`, id).Scan(&document)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		recipe, err = decodeRecipeDocument(id, document)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Failedf[models.Recipe]("get recipe %s: %w", id, err)
	}
	if !found {
		return Absent[models.Recipe]()
	}
	return Present(recipe)
}

func (r *postgresRepository) UpdateRecipe(ctx context.Context, id string, recipe models.Recipe) Outcome[Unit] {
	document, err := encodeRecipeDocument(recipe.WithID(id))
	if err != nil {
		return Failedf[Unit]("update recipe %s: %w", id, err)
	}
	var affected int64
	err = r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE recipes SET document = $2, updated_at = now() WHERE id = $1`, id, document)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return Failedf[Unit]("update recipe %s: %w", id, err)
	}
	if affected == 0 {
		return Absent[Unit]()
	}
	return Present(Unit{})
}

func (r *postgresRepository) DeleteRecipe(ctx context.Context, id string) Outcome[Unit] {
	var affected int64
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return Failedf[Unit]("delete recipe %s: %w", id, err)
	}
	if affected == 0 {
		return Absent[Unit]()
	}
	return Present(Unit{})
}

func (r *postgresRepository) InsertRecipe(ctx context.Context, recipe models.Recipe) Outcome[models.Recipe] {
	stored := recipe.WithID(generateID())
	document, err := encodeRecipeDocument(stored)
	if err != nil {
		return Failedf[models.Recipe]("insert recipe: %w", err)
	}
	err = r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `INSERT INTO recipes (id, document) VALUES ($1, $2)`, stored.ID, document)
		return err
	})
	if err != nil {
		return Failedf[models.Recipe]("insert recipe: %w", err)
	}
	return Present(stored)
}

// InsertRecipes writes the batch inside one transaction so the caller sees a
// single aggregate outcome.
func (r *postgresRepository) InsertRecipes(ctx context.Context, recipes []models.Recipe) Outcome[[]models.Recipe] {
	stored := make([]models.Recipe, 0, len(recipes))
	batch := &pgx.Batch{}
	for _, recipe := range recipes {
		withID := recipe.WithID(generateID())
		document, err := encodeRecipeDocument(withID)
		if err != nil {
			return Failedf[[]models.Recipe]("insert %d recipes: %w", len(recipes), err)
		}
		batch.Queue(`INSERT INTO recipes (id, document) VALUES ($1, $2)`, withID.ID, document)
		stored = append(stored, withID)
	}
	if batch.Len() == 0 {
		return Present(stored)
	}
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin insert transaction: %w", err)
		}
		defer rollbackTx(ctx, tx)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return Failedf[[]models.Recipe]("insert %d recipes: %w", len(recipes), err)
	}
	return Present(stored)
}

func (r *postgresRepository) ListRecipes(ctx context.Context, bounds *Bounds) Outcome[[]models.Recipe] {
	if bounds != nil && bounds.Size == 0 {
		return Present([]models.Recipe{})
	}
	recipes := []models.Recipe{}
	err := r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var (
			rows pgx.Rows
			err  error
		)
		if bounds != nil {
			rows, err = conn.Query(ctx, `SELECT id, document FROM recipes ORDER BY seq LIMIT $1 OFFSET $2`, bounds.Size, bounds.Skip())
		} else {
			rows, err = conn.Query(ctx, `SELECT id, document FROM recipes ORDER BY seq`)
		}
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id       string
				document []byte
			)
			if err := rows.Scan(&id, &document); err != nil {
				return err
			}
			recipe, err := decodeRecipeDocument(id, document)
			if err != nil {
				return err
			}
			recipes = append(recipes, recipe)
		}
		return rows.Err()
	})
	if err != nil {
		return Failedf[[]models.Recipe]("list recipes: %w", err)
	}
	return Present(recipes)
}

func encodeRecipeDocument(recipe models.Recipe) ([]byte, error) {
	document, err := json.Marshal(recipe)
	if err != nil {
		return nil, fmt.Errorf("encode recipe document: %w", err)
	}
	return document, nil
}

func decodeRecipeDocument(id string, document []byte) (models.Recipe, error) {
	var recipe models.Recipe
	if err := json.Unmarshal(document, &recipe); err != nil {
		return models.Recipe{}, fmt.Errorf("decode recipe document %s: %w", id, err)
	}
	recipe.ID = id
	return recipe, nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Default().Warn("postgres rollback failed", "error", err)
	}
}

var _ Repository = (*postgresRepository)(nil)
