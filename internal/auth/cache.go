package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCacheTTL is how long a verified key resolution stays cached.
const DefaultCacheTTL = 5 * time.Minute

// Resolution is the outcome of a successful key verification.
type Resolution struct {
	KeyID       uuid.UUID
	ProjectID   uuid.UUID
	Environment string
}

type cacheEntry struct {
	resolution Resolution
	expiresAt  time.Time
}

// KeyCache memoizes verified key resolutions keyed by CacheIndex. Entries
// expire after the TTL and are evicted lazily on access.
type KeyCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewKeyCache builds a cache with the given TTL. A non-positive ttl falls
// back to DefaultCacheTTL.
func NewKeyCache(ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &KeyCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached resolution for index, if present and unexpired.
func (c *KeyCache) Get(index string) (Resolution, bool) {
	c.mu.RLock()
	entry, ok := c.entries[index]
	c.mu.RUnlock()
	if !ok {
		return Resolution{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock so a concurrent Put is not discarded.
		if current, ok := c.entries[index]; ok && c.now().After(current.expiresAt) {
			delete(c.entries, index)
		}
		c.mu.Unlock()
		return Resolution{}, false
	}
	return entry.resolution, true
}

// Put stores a resolution under index for the cache TTL.
func (c *KeyCache) Put(index string, res Resolution) {
	c.mu.Lock()
	c.entries[index] = cacheEntry{resolution: res, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops a single cached resolution.
func (c *KeyCache) Invalidate(index string) {
	c.mu.Lock()
	delete(c.entries, index)
	c.mu.Unlock()
}

// Len reports the number of resident entries, expired or not.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
