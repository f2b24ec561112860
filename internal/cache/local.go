package cache

import (
	"sync"
	"time"
)

// localEntry is one Tier-1 record. A zero expiresAt means "no expiry".
type localEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LocalCache is the process-local ephemeral tier: a TTL map behind an
// RWMutex. Entries expire lazily on read; the tier is not
// pattern-addressable and is instead cleared wholesale via Flush.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
}

// NewLocalCache creates an empty Tier-1 cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		entries: make(map[string]localEntry),
	}
}

// Get returns the stored bytes and true on a live hit. Expired entries
// are removed on the way out.
func (c *LocalCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// refreshed the entry.
		if current, ok := c.entries[key]; ok && current.expired(time.Now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.data, true
}

// Set stores value under key. A ttl of zero or less caches indefinitely
// until explicit invalidation.
func (c *LocalCache) Set(key string, data []byte, ttl time.Duration) {
	entry := localEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Delete removes a single key. Removing an absent key is a no-op.
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Flush drops every entry.
func (c *LocalCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]localEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, counting not-yet-collected expired
// ones.
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
