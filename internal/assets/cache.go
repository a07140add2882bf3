package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache stores asset bytes between requests.
type Cache interface {
	Get(ctx context.Context, id ID) ([]byte, bool, error)
	Set(ctx context.Context, id ID, data []byte) error
}

// CachingProvider serves assets from a Cache and falls through to the next
// Provider on a miss. Concurrent misses for the same asset share one fetch.
type CachingProvider struct {
	next  Provider
	cache Cache
	group singleflight.Group
}

func NewCachingProvider(next Provider, cache Cache) *CachingProvider {
	return &CachingProvider{next: next, cache: cache}
}

func (p *CachingProvider) Fetch(ctx context.Context, id ID) ([]byte, error) {
	data, ok, err := p.cache.Get(ctx, id)
	if err != nil {
		slog.Warn("Asset cache read failed, fetching from origin.", "asset", id, "error", err)
	} else if ok {
		return data, nil
	}

	v, err, _ := p.group.Do(string(id), func() (any, error) {
		data, err := p.next.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := p.cache.Set(ctx, id, data); err != nil {
			slog.Warn("Asset cache write failed.", "asset", id, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// MemoryCache keeps assets in process memory for ttl. A zero ttl never expires.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[ID]memoryEntry
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[ID]memoryEntry),
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

func (c *MemoryCache) Get(_ context.Context, id ID) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expired(c.now()) {
		return e.data, true, nil
	}

	// Look again under the write lock: a Set may have refreshed the entry
	// since the read lock was released.
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.entries[id]
	if ok && e.expired(c.now()) {
		delete(c.entries, id)
		ok = false
	}
	if !ok {
		return nil, false, nil
	}
	return e.data, true, nil
}

func (c *MemoryCache) Set(_ context.Context, id ID, data []byte) error {
	e := memoryEntry{data: data}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
	return nil
}

// RedisCache shares assets across function instances through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to the Redis server at redisURL, e.g.
// redis://:password@host:6379/0.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		prefix: "diplomaflow:asset:",
		ttl:    ttl,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, id ID) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, id ID, data []byte) error {
	if err := c.client.Set(ctx, c.prefix+string(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
