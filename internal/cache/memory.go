package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry represents a cached item with expiration
type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-memory LRU cache with TTL support
type MemoryCache struct {
	cache *lru.Cache[string, *cacheEntry]
	ttl   time.Duration
	now   func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	cache, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}

	mc := &MemoryCache{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go mc.cleanupLoop()

	return mc, nil
}

// Name implements Cache
func (mc *MemoryCache) Name() string {
	return "memory"
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	entry, ok := mc.cache.Get(key)
	if !ok {
		return nil, false
	}

	if mc.now().After(entry.expiresAt) {
		mc.cache.Remove(key)
		return nil, false
	}

	return entry.data, true
}

// Set stores a value in the cache
func (mc *MemoryCache) Set(_ context.Context, key string, value []byte) {
	mc.cache.Add(key, &cacheEntry{
		data:      value,
		expiresAt: mc.now().Add(mc.ttl),
	})
}

// Len returns the number of entries, expired ones included
func (mc *MemoryCache) Len() int {
	return mc.cache.Len()
}

// Close stops the cleanup goroutine
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(mc.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.removeExpired()
		}
	}
}

func (mc *MemoryCache) removeExpired() {
	now := mc.now()
	for _, key := range mc.cache.Keys() {
		entry, ok := mc.cache.Peek(key)
		if ok && now.After(entry.expiresAt) {
			mc.cache.Remove(key)
		}
	}
}
