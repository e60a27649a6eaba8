package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"recipe-api/internal/models"
)

type dataset struct {
	Recipes map[string]models.Recipe `json:"recipes"`
	// Order keeps insertion order so list pages are stable.
	Order []string `json:"order"`
}

func newDataset() dataset {
	return dataset{Recipes: make(map[string]models.Recipe), Order: []string{}}
}

// Storage is a JSON file backed Repository. An empty file path keeps the
// dataset in memory only, which is what tests and local development use.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	logger   *slog.Logger
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		s.data = newDataset()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Recipes == nil {
		s.data.Recipes = make(map[string]models.Recipe)
	}
	if s.data.Order == nil {
		s.data.Order = make([]string, 0, len(s.data.Recipes))
	}
	// Recover order entries for documents written by hand or by older files.
	known := make(map[string]struct{}, len(s.data.Order))
	filtered := s.data.Order[:0]
	for _, id := range s.data.Order {
		if _, ok := s.data.Recipes[id]; !ok {
			continue
		}
		if _, dup := known[id]; dup {
			continue
		}
		known[id] = struct{}{}
		filtered = append(filtered, id)
	}
	s.data.Order = filtered
	for id := range s.data.Recipes {
		if _, ok := known[id]; !ok {
			s.data.Order = append(s.data.Order, id)
		}
	}
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{
		Recipes: make(map[string]models.Recipe, len(src.Recipes)),
		Order:   append([]string(nil), src.Order...),
	}
	for id, recipe := range src.Recipes {
		clone.Recipes[id] = recipe
	}
	return clone
}

// mutate applies fn to a copy of the dataset and only swaps it in once the
// copy has been persisted, so a failed write leaves memory untouched.
func (s *Storage) mutate(fn func(*dataset) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneDataset(s.data)
	if !fn(&next) {
		return false, nil
	}
	if err := s.persistDataset(next); err != nil {
		s.logger.Error("failed to persist recipes", "path", s.filePath, "error", err)
		return false, err
	}
	s.data = next
	return true, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) GetRecipe(ctx context.Context, id string) Outcome[models.Recipe] {
	if err := ctx.Err(); err != nil {
		return Failed[models.Recipe](err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recipe, ok := s.data.Recipes[id]
	if !ok {
		return Absent[models.Recipe]()
	}
	return Present(recipe.Clone())
}

func (s *Storage) UpdateRecipe(ctx context.Context, id string, recipe models.Recipe) Outcome[Unit] {
	if err := ctx.Err(); err != nil {
		return Failed[Unit](err)
	}
	updated, err := s.mutate(func(data *dataset) bool {
		if _, ok := data.Recipes[id]; !ok {
			return false
		}
		data.Recipes[id] = recipe.WithID(id)
		return true
	})
	if err != nil {
		return Failedf[Unit]("update recipe %s: %w", id, err)
	}
	if !updated {
		return Absent[Unit]()
	}
	return Present(Unit{})
}

func (s *Storage) DeleteRecipe(ctx context.Context, id string) Outcome[Unit] {
	if err := ctx.Err(); err != nil {
		return Failed[Unit](err)
	}
	deleted, err := s.mutate(func(data *dataset) bool {
		if _, ok := data.Recipes[id]; !ok {
			return false
		}
		delete(data.Recipes, id)
		for i, existing := range data.Order {
			if existing == id {
				data.Order = append(data.Order[:i], data.Order[i+1:]...)
				break
			}
		}
		return true
	})
	if err != nil {
		return Failedf[Unit]("delete recipe %s: %w", id, err)
	}
	if !deleted {
		return Absent[Unit]()
	}
	return Present(Unit{})
}

func (s *Storage) InsertRecipe(ctx context.Context, recipe models.Recipe) Outcome[models.Recipe] {
	inserted := s.InsertRecipes(ctx, []models.Recipe{recipe})
	switch inserted.Kind() {
	case OutcomePresent:
		recipes, _ := inserted.Value()
		if len(recipes) != 1 {
			return Failedf[models.Recipe]("insert recipe: expected 1 stored record, got %d", len(recipes))
		}
		return Present(recipes[0])
	case OutcomeAbsent:
		return Absent[models.Recipe]()
	default:
		return Failed[models.Recipe](inserted.Err())
	}
}

// InsertRecipes stores the batch in a single write: either every recipe is
// persisted or none is.
func (s *Storage) InsertRecipes(ctx context.Context, recipes []models.Recipe) Outcome[[]models.Recipe] {
	if err := ctx.Err(); err != nil {
		return Failed[[]models.Recipe](err)
	}
	stored := make([]models.Recipe, 0, len(recipes))
	for _, recipe := range recipes {
		stored = append(stored, recipe.WithID(generateID()))
	}
	_, err := s.mutate(func(data *dataset) bool {
		for _, recipe := range stored {
			data.Recipes[recipe.ID] = recipe
			data.Order = append(data.Order, recipe.ID)
		}
		return true
	})
	if err != nil {
		return Failedf[[]models.Recipe]("insert %d recipes: %w", len(recipes), err)
	}
	out := make([]models.Recipe, len(stored))
	for i, recipe := range stored {
		out[i] = recipe.Clone()
	}
	return Present(out)
}

func (s *Storage) ListRecipes(ctx context.Context, bounds *Bounds) Outcome[[]models.Recipe] {
	if err := ctx.Err(); err != nil {
		return Failed[[]models.Recipe](err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.data.Order
	if bounds != nil {
		skip := bounds.Skip()
		if skip >= int64(len(ids)) || bounds.Size == 0 {
			return Present([]models.Recipe{})
		}
		end := skip + bounds.Size
		if end > int64(len(ids)) {
			end = int64(len(ids))
		}
		ids = ids[skip:end]
	}
	recipes := make([]models.Recipe, 0, len(ids))
	for _, id := range ids {
		recipes = append(recipes, s.data.Recipes[id].Clone())
	}
	return Present(recipes)
}
