package speech

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores synthesized audio by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, audio []byte, ttl time.Duration) error
}

const redisKeyPrefix = "tts:"

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, audio []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, redisKeyPrefix+key, audio, ttl).Err()
}

// MemoryCache is a process-local Cache for tests and single-instance runs.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock func() time.Time
}

type memoryItem struct {
	audio   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memoryItem{}, clock: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expires.IsZero() && !c.clock().Before(it.expires) {
		delete(c.items, key)
		return nil, ErrCacheMiss
	}
	return it.audio, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, audio []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := memoryItem{audio: audio}
	if ttl > 0 {
		it.expires = c.clock().Add(ttl)
	}
	c.items[key] = it
	return nil
}
