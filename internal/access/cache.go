package access

import (
	"context"
	"sync"
	"time"
)

// Cache holds per-user role sets for a bounded time. An entry read at or
// after its expiry is treated as absent.
type Cache interface {
	Get(ctx context.Context, userID int64) ([]string, bool)
	Put(ctx context.Context, userID int64, roles []string, ttl time.Duration)
	Invalidate(ctx context.Context, userID int64)
	// Sweep evicts expired entries and returns how many were removed.
	Sweep(ctx context.Context) int
}

type cacheEntry struct {
	roles     []string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]cacheEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache constructs an empty cache on the wall clock.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

// NewMemoryCacheWithClock constructs a cache reading time from now.
func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{entries: make(map[int64]cacheEntry), now: now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, userID int64) ([]string, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return append([]string{}, e.roles...), true
}

// Put implements Cache. A non-positive ttl stores nothing.
func (c *MemoryCache) Put(_ context.Context, userID int64, roles []string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := cacheEntry{roles: append([]string{}, roles...), expiresAt: c.now().Add(ttl)}
	c.mu.Lock()
	c.entries[userID] = e
	c.mu.Unlock()
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Sweep implements Cache.
func (c *MemoryCache) Sweep(_ context.Context) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
