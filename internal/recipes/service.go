package recipes

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"recipe-api/internal/models"
	"recipe-api/internal/observability/logging"
	"recipe-api/internal/storage"
)

const (
	OperationGetOne    = "get_one"
	OperationGetMany   = "get_many"
	OperationAddOne    = "add_one"
	OperationAddMany   = "add_many"
	OperationUpdateOne = "update_one"
	OperationDeleteOne = "delete_one"
)

// OutcomeObserver receives the mediated result of every operation.
// metrics.Recorder satisfies it.
type OutcomeObserver interface {
	ObserveOutcome(operation, result string)
}

type noopObserver struct{}

func (noopObserver) ObserveOutcome(string, string) {}

// Service runs recipe operations against a repository.
type Service struct {
	store    storage.Repository
	logger   *slog.Logger
	observer OutcomeObserver
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used when the request context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver reports each operation's result to observer.
func WithObserver(observer OutcomeObserver) Option {
	return func(s *Service) {
		if observer != nil {
			s.observer = observer
		}
	}
}

func NewService(store storage.Repository, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the datastore is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) GetOne(ctx context.Context, rawID string) Result {
	id, err := ValidateID(rawID)
	if err != nil {
		return s.finish(ctx, OperationGetOne, BadRequest(err), "input", rawID)
	}
	outcome := s.store.GetRecipe(ctx, id.String())
	return s.finish(ctx, OperationGetOne, Mediate(outcome, ShapeRead), "recipe_id", id.String())
}

func (s *Service) GetMany(ctx context.Context, pagination Pagination) Result {
	bounds, err := pagination.Bounds()
	if err != nil {
		return s.finish(ctx, OperationGetMany, BadRequest(err), "input", pagination.logValue())
	}
	outcome := s.store.ListRecipes(ctx, bounds)
	return s.finish(ctx, OperationGetMany, Mediate(outcome, ShapeList), "pagination", pagination.Classify().String())
}

// GetManyFromQuery reads page and size from query and lists recipes.
func (s *Service) GetManyFromQuery(ctx context.Context, query url.Values) Result {
	pagination, err := ParsePagination(query)
	if err != nil {
		return s.finish(ctx, OperationGetMany, BadRequest(err), "input", query.Encode())
	}
	return s.GetMany(ctx, pagination)
}

func (s *Service) AddOne(ctx context.Context, recipe models.Recipe) Result {
	outcome := s.store.InsertRecipe(ctx, recipe)
	result := Mediate(outcome, ShapeCreate)
	if stored, ok := outcome.Value(); ok {
		return s.finish(ctx, OperationAddOne, result, "recipe_id", stored.ID)
	}
	return s.finish(ctx, OperationAddOne, result, "title", recipe.Title)
}

// AddMany inserts a non-empty batch and reports it as one aggregate result.
func (s *Service) AddMany(ctx context.Context, recipes []models.Recipe) Result {
	if len(recipes) == 0 {
		return s.finish(ctx, OperationAddMany, BadRequest(ErrEmptyBatch), "input", 0)
	}
	outcome := s.store.InsertRecipes(ctx, recipes)
	return s.finish(ctx, OperationAddMany, Mediate(outcome, ShapeBulkCreate), "count", len(recipes))
}

// UpdateOne replaces the stored recipe. Success carries no body.
func (s *Service) UpdateOne(ctx context.Context, rawID string, recipe models.Recipe) Result {
	id, err := ValidateID(rawID)
	if err != nil {
		return s.finish(ctx, OperationUpdateOne, BadRequest(err), "input", rawID)
	}
	outcome := s.store.UpdateRecipe(ctx, id.String(), recipe)
	return s.finish(ctx, OperationUpdateOne, Mediate(outcome, ShapeUpdate), "recipe_id", id.String())
}

// DeleteOne removes the recipe. Deleting it again yields StatusNotFound.
func (s *Service) DeleteOne(ctx context.Context, rawID string) Result {
	id, err := ValidateID(rawID)
	if err != nil {
		return s.finish(ctx, OperationDeleteOne, BadRequest(err), "input", rawID)
	}
	outcome := s.store.DeleteRecipe(ctx, id.String())
	return s.finish(ctx, OperationDeleteOne, Mediate(outcome, ShapeDelete), "recipe_id", id.String())
}

// Reject records an input the transport could not turn into an operation
// call, such as an undecodable body, and returns the matching bad request.
// Causes outside the input error set are reported as ErrMalformedBody.
func (s *Service) Reject(ctx context.Context, operation string, err error) Result {
	if !IsInvalidInput(err) {
		err = fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return s.finish(ctx, operation, BadRequest(err))
}

// finish logs the result at the level its class calls for and reports it to
// the observer.
func (s *Service) finish(ctx context.Context, operation string, result Result, attrs ...any) Result {
	logger := s.loggerFor(ctx)
	attrs = append([]any{"operation", operation}, attrs...)
	switch result.Status {
	case StatusBadRequest:
		logger.Warn("recipe request rejected", append(attrs, "outcome", "invalid_input", "error", result.Err)...)
	case StatusNotFound:
		logger.Info("recipe not found", append(attrs, "outcome", "not_found")...)
	case StatusInternalError:
		logger.Error("recipe storage failure", append(attrs, "outcome", "infrastructure_failure", "error", result.Err)...)
	default:
		logger.Debug("recipe operation completed", append(attrs, "outcome", "ok")...)
	}
	s.observer.ObserveOutcome(operation, result.Status.String())
	return result
}

func (s *Service) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.LoggerFromContext(ctx); logger != nil {
		return logging.WithComponent(logger, "recipes")
	}
	return logging.WithComponent(logging.WithContext(ctx, s.logger), "recipes")
}
