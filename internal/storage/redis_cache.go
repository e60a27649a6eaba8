package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"recipe-api/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultCachePrefix = "recipes:"
)

// CacheConfig tunes the read-through cache placed in front of a repository.
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
	Logger *slog.Logger
	// OnLookup, when set, is told whether each read was a "hit", "miss",
	// "error" or "bypass".
	OnLookup func(result string)
}

// CachedRepository serves single-recipe reads from Redis and falls back to the
// wrapped repository on a miss. Redis errors never fail a call; they only
// bypass the cache.
//
// Ids whose eviction failed are kept in unevicted and read straight from the
// wrapped repository until a later DEL succeeds. writeSeq changes on every
// update or delete so a read that started before a write never repopulates
// the entry that write evicted.
type CachedRepository struct {
	next     Repository
	client   redis.UniversalClient
	ttl      time.Duration
	prefix   string
	logger   *slog.Logger
	onLookup func(string)

	writeSeq atomic.Uint64

	mu        sync.Mutex
	unevicted map[string]struct{}
}

// NewCachedRepository wraps next with a Redis read-through cache.
func NewCachedRepository(next Repository, client redis.UniversalClient, cfg CacheConfig) *CachedRepository {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onLookup := cfg.OnLookup
	if onLookup == nil {
		onLookup = func(string) {}
	}
	return &CachedRepository{
		next:      next,
		client:    client,
		ttl:       ttl,
		prefix:    prefix,
		logger:    logger.With("component", "recipe_cache"),
		onLookup:  onLookup,
		unevicted: make(map[string]struct{}),
	}
}

func (c *CachedRepository) key(id string) string {
	return c.prefix + id
}

func (c *CachedRepository) Ping(ctx context.Context) error {
	if err := c.next.Ping(ctx); err != nil {
		return err
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn("cache ping failed", "error", err)
	}
	return nil
}

func (c *CachedRepository) GetRecipe(ctx context.Context, id string) Outcome[models.Recipe] {
	if c.isUnevicted(id) && !c.evict(ctx, id) {
		c.onLookup("bypass")
		return c.next.GetRecipe(ctx, id)
	}
	seq := c.writeSeq.Load()
	if recipe, ok := c.lookup(ctx, id); ok {
		return Present(recipe)
	}
	outcome := c.next.GetRecipe(ctx, id)
	if recipe, ok := outcome.Value(); ok && c.writeSeq.Load() == seq {
		c.store(ctx, recipe)
	}
	return outcome
}

func (c *CachedRepository) UpdateRecipe(ctx context.Context, id string, recipe models.Recipe) Outcome[Unit] {
	c.beginWrite(ctx, id)
	outcome := c.next.UpdateRecipe(ctx, id, recipe)
	c.endWrite(ctx, id)
	return outcome
}

func (c *CachedRepository) DeleteRecipe(ctx context.Context, id string) Outcome[Unit] {
	c.beginWrite(ctx, id)
	outcome := c.next.DeleteRecipe(ctx, id)
	c.endWrite(ctx, id)
	return outcome
}

// beginWrite drops the cached entry before the wrapped write runs and
// endWrite drops it again afterwards, whatever the write's outcome.
func (c *CachedRepository) beginWrite(ctx context.Context, id string) {
	c.writeSeq.Add(1)
	c.evict(ctx, id)
}

func (c *CachedRepository) endWrite(ctx context.Context, id string) {
	c.writeSeq.Add(1)
	c.evict(ctx, id)
}

func (c *CachedRepository) InsertRecipe(ctx context.Context, recipe models.Recipe) Outcome[models.Recipe] {
	return c.next.InsertRecipe(ctx, recipe)
}

func (c *CachedRepository) InsertRecipes(ctx context.Context, recipes []models.Recipe) Outcome[[]models.Recipe] {
	return c.next.InsertRecipes(ctx, recipes)
}

func (c *CachedRepository) ListRecipes(ctx context.Context, bounds *Bounds) Outcome[[]models.Recipe] {
	return c.next.ListRecipes(ctx, bounds)
}

// Close closes the wrapped repository. The Redis client belongs to the caller.
func (c *CachedRepository) Close(ctx context.Context) error {
	return Close(ctx, c.next)
}

func (c *CachedRepository) lookup(ctx context.Context, id string) (models.Recipe, bool) {
	payload, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.onLookup("miss")
		return models.Recipe{}, false
	}
	if err != nil {
		c.onLookup("error")
		c.logger.Warn("cache read failed", "recipe_id", id, "error", err)
		return models.Recipe{}, false
	}
	var recipe models.Recipe
	if err := json.Unmarshal(payload, &recipe); err != nil {
		c.logger.Warn("cache entry corrupt", "recipe_id", id, "error", err)
		c.onLookup("error")
		c.evict(ctx, id)
		return models.Recipe{}, false
	}
	c.onLookup("hit")
	recipe.ID = id
	return recipe, true
}

func (c *CachedRepository) store(ctx context.Context, recipe models.Recipe) {
	payload, err := json.Marshal(recipe)
	if err != nil {
		c.logger.Warn("cache encode failed", "recipe_id", recipe.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(recipe.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "recipe_id", recipe.ID, "error", err)
	}
}

// evict deletes the cached entry and reports whether Redis confirmed it. A
// failed DEL marks id so reads bypass the cache until an eviction succeeds.
func (c *CachedRepository) evict(ctx context.Context, id string) bool {
	err := c.client.Del(ctx, c.key(id)).Err()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.unevicted[id] = struct{}{}
		c.logger.Warn("cache evict failed", "recipe_id", id, "error", err)
		return false
	}
	delete(c.unevicted, id)
	return true
}

func (c *CachedRepository) isUnevicted(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unevicted[id]
	return ok
}

var _ Repository = (*CachedRepository)(nil)
