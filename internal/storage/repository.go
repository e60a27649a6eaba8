package storage

import (
	"context"

	"recipe-api/internal/models"
)

// Bounds limits a list call to one page. Page is zero-based; the datastore
// skips Page*Size records and returns at most Size.
type Bounds struct {
	Page int64
	Size int64
}

// Skip returns the number of records preceding the page.
func (b Bounds) Skip() int64 {
	return b.Page * b.Size
}

// Repository exposes the datastore operations required by the recipe service.
// Every call reports its result as an Outcome; implementations never return
// a bare error for a missing record.
type Repository interface {
	Ping(ctx context.Context) error

	GetRecipe(ctx context.Context, id string) Outcome[models.Recipe]
	UpdateRecipe(ctx context.Context, id string, recipe models.Recipe) Outcome[Unit]
	DeleteRecipe(ctx context.Context, id string) Outcome[Unit]
	InsertRecipe(ctx context.Context, recipe models.Recipe) Outcome[models.Recipe]
	InsertRecipes(ctx context.Context, recipes []models.Recipe) Outcome[[]models.Recipe]
	ListRecipes(ctx context.Context, bounds *Bounds) Outcome[[]models.Recipe]
}

// Closer is implemented by repositories holding network resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Close releases the repository's resources when it holds any.
func Close(ctx context.Context, repo Repository) error {
	if closer, ok := repo.(Closer); ok {
		return closer.Close(ctx)
	}
	return nil
}

var _ Repository = (*Storage)(nil)
