// Package cache keeps encoded API read models (schedule previews, pending
// execution lists) in memory for a short TTL, each with a weak ETag.
package cache

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TTLs for cached API responses.
const (
	TTLPreview    = 1 * time.Minute // Dry-run decisions shift as "now" moves
	TTLExecutions = 15 * time.Second
)

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	enabled bool
	now     func() time.Time
}

// New creates a new cache. Pass enabled=false to create a no-op cache.
func New(enabled bool) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		enabled: enabled,
		now:     time.Now,
	}
	if enabled {
		go c.evictLoop()
	}
	return c
}

// Snapshot is one cached response body.
type Snapshot struct {
	Data    []byte
	ETag    string
	Expires time.Time // zero when the cache is disabled
	Hit     bool
}

// Fetch returns the live snapshot for key, or calls build and stores its
// result for ttl. A build error is returned and nothing is stored. With the
// cache disabled build runs on every call.
func (c *Cache) Fetch(key string, ttl time.Duration, build func() ([]byte, error)) (Snapshot, error) {
	if s, ok := c.Get(key); ok {
		return s, nil
	}
	data, err := build()
	if err != nil {
		return Snapshot{}, err
	}
	return c.Set(key, data, ttl), nil
}

// Get returns the live snapshot for key.
func (c *Cache) Get(key string) (Snapshot, bool) {
	if !c.enabled {
		return Snapshot{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.entries[key]
	if !exists || c.now().After(e.expiresAt) {
		return Snapshot{}, false
	}
	return Snapshot{Data: e.data, ETag: e.etag, Expires: e.expiresAt, Hit: true}, true
}

// Set stores data for ttl and returns it as a fresh snapshot.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) Snapshot {
	s := Snapshot{Data: data, ETag: ComputeETag(data)}
	if !c.enabled {
		return s
	}
	s.Expires = c.now().Add(ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: data, etag: s.ETag, expiresAt: s.Expires}
	return s
}

// InvalidatePrefix drops every entry whose key starts with prefix.
// Called after a scheduling run so previews reflect the new state.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]interface{}{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
	}
}

// evictLoop periodically removes expired entries.
func (c *Cache) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.evict()
	}
}

func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// ComputeETag returns a weak ETag over data.
func ComputeETag(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, hash[:8])
}
