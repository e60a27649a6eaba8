package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"recipe-api/internal/models"
	"recipe-api/internal/testsupport/redisstub"

	"github.com/redis/go-redis/v9"
)

type countingRepository struct {
	Repository
	gets atomic.Int64
}

func (c *countingRepository) GetRecipe(ctx context.Context, id string) Outcome[models.Recipe] {
	c.gets.Add(1)
	return c.Repository.GetRecipe(ctx, id)
}

func newCachedTestRepository(t *testing.T) (*CachedRepository, *countingRepository, *redisstub.Server) {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	client := redis.NewClient(&redis.Options{
		Addr:        stub.Addr(),
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	backing := &countingRepository{Repository: NewMemoryRepository()}
	cache := NewCachedRepository(backing, client, CacheConfig{TTL: time.Minute, Prefix: "test:recipes:"})
	return cache, backing, stub
}

func TestCachedRepositoryReportsLookups(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })
	client := redis.NewClient(&redis.Options{Addr: stub.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	var lookups []string
	cache := NewCachedRepository(NewMemoryRepository(), client, CacheConfig{
		OnLookup: func(result string) { lookups = append(lookups, result) },
	})
	ctx := context.Background()
	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("tagine")), "insert")
	requirePresent(t, cache.GetRecipe(ctx, stored.ID), "miss")
	requirePresent(t, cache.GetRecipe(ctx, stored.ID), "hit")
	stub.SetFailing(true)
	requirePresent(t, cache.GetRecipe(ctx, stored.ID), "error")

	want := []string{"miss", "hit", "error"}
	if len(lookups) != len(want) {
		t.Fatalf("expected lookups %v, got %v", want, lookups)
	}
	for i := range want {
		if lookups[i] != want[i] {
			t.Fatalf("expected lookups %v, got %v", want, lookups)
		}
	}
	if _, ok := stub.Value(defaultCachePrefix + stored.ID); !ok {
		t.Fatal("expected default prefix to be used")
	}
}

func TestCachedRepositoryServesRepeatReadsFromRedis(t *testing.T) {
	cache, backing, stub := newCachedTestRepository(t)
	ctx := context.Background()

	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("ramen")), "insert")

	first := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "first get")
	second := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "second get")

	if got := backing.gets.Load(); got != 1 {
		t.Fatalf("expected a single datastore read, got %d", got)
	}
	if !sameRecipeBody(first, second) || second.ID != stored.ID {
		t.Fatalf("cached recipe differs: %+v", second)
	}
	if _, ok := stub.Value("test:recipes:" + stored.ID); !ok {
		t.Fatal("expected recipe to be cached under the configured prefix")
	}
}

func TestCachedRepositoryEvictsOnWrite(t *testing.T) {
	cache, backing, stub := newCachedTestRepository(t)
	ctx := context.Background()

	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("pho")), "insert")
	requirePresent(t, cache.GetRecipe(ctx, stored.ID), "prime cache")

	requirePresent(t, cache.UpdateRecipe(ctx, stored.ID, sampleRecipe("laksa")), "update")
	if _, ok := stub.Value("test:recipes:" + stored.ID); ok {
		t.Fatal("expected update to evict the cached recipe")
	}
	fetched := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "get after update")
	if fetched.Title != "laksa" {
		t.Fatalf("expected updated title, got %q", fetched.Title)
	}

	requirePresent(t, cache.DeleteRecipe(ctx, stored.ID), "delete")
	if outcome := cache.GetRecipe(ctx, stored.ID); !outcome.IsAbsent() {
		t.Fatalf("expected deleted recipe to be absent, got %s", outcome.Kind())
	}
	if got := backing.gets.Load(); got != 3 {
		t.Fatalf("expected 3 datastore reads, got %d", got)
	}
}

func TestCachedRepositoryDoesNotCacheAbsent(t *testing.T) {
	cache, backing, _ := newCachedTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if outcome := cache.GetRecipe(ctx, absentID); !outcome.IsAbsent() {
			t.Fatalf("expected absent outcome, got %s", outcome.Kind())
		}
	}
	if got := backing.gets.Load(); got != 2 {
		t.Fatalf("expected every miss to reach the datastore, got %d reads", got)
	}
}

func TestCachedRepositoryFallsThroughWhenRedisFails(t *testing.T) {
	cache, backing, stub := newCachedTestRepository(t)
	ctx := context.Background()

	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("gumbo")), "insert")
	stub.SetFailing(true)

	fetched := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "get with failing cache")
	if fetched.Title != "gumbo" {
		t.Fatalf("expected datastore recipe, got %q", fetched.Title)
	}
	requirePresent(t, cache.DeleteRecipe(ctx, stored.ID), "delete with failing cache")
	if got := backing.gets.Load(); got != 1 {
		t.Fatalf("expected datastore read, got %d", got)
	}
	if err := cache.Ping(ctx); err != nil {
		t.Fatalf("expected ping to ignore cache failure, got %v", err)
	}
}

type hookRepository struct {
	Repository
	afterGet func()
}

func (h *hookRepository) GetRecipe(ctx context.Context, id string) Outcome[models.Recipe] {
	outcome := h.Repository.GetRecipe(ctx, id)
	if hook := h.afterGet; hook != nil {
		h.afterGet = nil
		hook()
	}
	return outcome
}

func TestCachedRepositoryDeleteSurvivesFailedEviction(t *testing.T) {
	cache, _, stub := newCachedTestRepository(t)
	ctx := context.Background()

	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("bibimbap")), "insert")
	requirePresent(t, cache.GetRecipe(ctx, stored.ID), "prime cache")

	stub.SetFailing(true)
	requirePresent(t, cache.DeleteRecipe(ctx, stored.ID), "delete with failing cache")
	if outcome := cache.GetRecipe(ctx, stored.ID); !outcome.IsAbsent() {
		t.Fatalf("expected deleted recipe to be absent while redis fails, got %s", outcome.Kind())
	}
	stub.SetFailing(false)

	if outcome := cache.GetRecipe(ctx, stored.ID); !outcome.IsAbsent() {
		t.Fatalf("expected deleted recipe to stay absent after redis recovers, got %s", outcome.Kind())
	}
	if _, ok := stub.Value("test:recipes:" + stored.ID); ok {
		t.Fatal("expected the stale entry to be evicted once redis recovered")
	}
	if outcome := cache.DeleteRecipe(ctx, stored.ID); !outcome.IsAbsent() {
		t.Fatalf("expected repeat delete to be absent, got %s", outcome.Kind())
	}
}

func TestCachedRepositoryUpdateSurvivesFailedEviction(t *testing.T) {
	cache, backing, stub := newCachedTestRepository(t)
	ctx := context.Background()

	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("paella")), "insert")
	requirePresent(t, cache.GetRecipe(ctx, stored.ID), "prime cache")

	stub.SetFailing(true)
	requirePresent(t, cache.UpdateRecipe(ctx, stored.ID, sampleRecipe("fideua")), "update with failing cache")
	stub.SetFailing(false)

	fetched := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "get after update")
	if fetched.Title != "fideua" {
		t.Fatalf("expected updated title, got %q", fetched.Title)
	}
	fetched = requirePresent(t, cache.GetRecipe(ctx, stored.ID), "cached get after update")
	if fetched.Title != "fideua" {
		t.Fatalf("expected updated title from cache, got %q", fetched.Title)
	}
	if got := backing.gets.Load(); got != 2 {
		t.Fatalf("expected the cache to be used again after recovery, got %d datastore reads", got)
	}
}

func TestCachedRepositoryReadRacingWriteIsNotCached(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })
	client := redis.NewClient(&redis.Options{Addr: stub.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	backing := &hookRepository{Repository: NewMemoryRepository()}
	cache := NewCachedRepository(backing, client, CacheConfig{Prefix: "race:"})
	ctx := context.Background()

	stored := requirePresent(t, cache.InsertRecipe(ctx, sampleRecipe("mole")), "insert")
	backing.afterGet = func() {
		requirePresent(t, cache.UpdateRecipe(ctx, stored.ID, sampleRecipe("pozole")), "concurrent update")
	}

	stale := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "get racing update")
	if stale.Title != "mole" {
		t.Fatalf("expected the read to return what it saw, got %q", stale.Title)
	}
	if _, ok := stub.Value("race:" + stored.ID); ok {
		t.Fatal("expected a read that raced a write not to populate the cache")
	}
	fetched := requirePresent(t, cache.GetRecipe(ctx, stored.ID), "get after update")
	if fetched.Title != "pozole" {
		t.Fatalf("expected updated title, got %q", fetched.Title)
	}
}
