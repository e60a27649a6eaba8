package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// recipeSchema is applied in order on every start; each statement is
// idempotent.
var recipeSchema = []string{
	`CREATE TABLE IF NOT EXISTS recipes (
	seq BIGSERIAL NOT NULL,
	id TEXT PRIMARY KEY,
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS recipes_seq_idx ON recipes (seq)`,
	`CREATE INDEX IF NOT EXISTS recipes_title_idx ON recipes ((document->>'title'))`,
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin schema transaction: %w", err)
		}
		defer rollbackTx(ctx, tx)
		for _, statement := range recipeSchema {
			if _, err := tx.Exec(ctx, statement); err != nil {
				return fmt.Errorf("apply recipe schema: %w", err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit recipe schema: %w", err)
		}
		r.logger.Debug("recipe schema ready", "statements", len(recipeSchema))
		return nil
	})
}
