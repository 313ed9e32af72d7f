package schema

import (
	"context"
	"errors"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// Cache is the strategy the introspector uses to keep serialized schemas.
// The TTL is advisory; a zero TTL means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func cacheKey(table string) string {
	return "schema_" + table
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// RedisCache shares schemas between engine instances through Redis.
type RedisCache struct {
	client *backend.Client
	prefix string
}

type RedisOption func(*RedisCache)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache connects to a Redis server.
func NewRedisCache(address, password string, db int, opts ...RedisOption) *RedisCache {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheFromClient(rdb, opts...)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *backend.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client, prefix: "entityflow:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
