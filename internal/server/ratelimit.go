package server

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const defaultRateLimitPrefix = "recipes:ratelimit:"

// RateLimitConfig bounds request throughput. GlobalRPS applies to every
// request; WriteLimit caps mutating requests per client within WriteWindow.
// Zero values disable the corresponding limit.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	WriteLimit  int
	WriteWindow time.Duration
	// Redis, when set, shares write counters between replicas. Without it
	// every process limits on its own.
	Redis     redis.UniversalClient
	KeyPrefix string
}

type rateLimiter struct {
	global      *rate.Limiter
	writeLimit  int
	writeWindow time.Duration
	clientsMu   sync.Mutex
	clients     map[string]*clientLimiter
	store       tokenStore
	prefix      string
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		writeLimit:  cfg.WriteLimit,
		writeWindow: cfg.WriteWindow,
		clients:     make(map[string]*clientLimiter),
		prefix:      cfg.KeyPrefix,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.writeLimit < 0 {
		rl.writeLimit = 0
	}
	if rl.writeWindow <= 0 {
		rl.writeWindow = time.Minute
	}
	if rl.prefix == "" {
		rl.prefix = defaultRateLimitPrefix
	}
	if cfg.Redis != nil && rl.writeLimit > 0 {
		rl.store = newRedisStore(cfg.Redis)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowWrite reports whether the client identified by key may issue another
// mutating request, and how long it should wait when it may not.
func (r *rateLimiter) AllowWrite(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.writeLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, r.prefix+"write:"+key, r.writeLimit, r.writeWindow)
	}

	r.clientsMu.Lock()
	client, exists := r.clients[key]
	if !exists {
		every := rate.Every(r.writeWindow / time.Duration(r.writeLimit))
		client = &clientLimiter{limiter: rate.NewLimiter(every, r.writeLimit)}
		r.clients[key] = client
	}
	client.lastSeen = time.Now()
	r.cleanupLocked()
	r.clientsMu.Unlock()

	reservation := client.limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.clients) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.writeWindow)
	for key, client := range r.clients {
		if client.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
}
