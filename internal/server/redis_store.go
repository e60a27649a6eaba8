package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore counts requests per key in fixed windows shared through Redis.
type redisStore struct {
	client redis.UniversalClient
}

func newRedisStore(client redis.UniversalClient) *redisStore {
	return &redisStore{client: client}
}

// Allow counts the request and starts the window in one MULTI block. EXPIRE NX
// only sets a TTL when the key has none, so a counter left without one by an
// earlier failure is bounded again on the next request.
func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if window < time.Second {
		window = time.Second
	}
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("count %s: %w", key, err)
	}
	count := incr.Val()
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}
