// Package cache provides a small TTL key/value store for parsed feeds and
// HTTP validator metadata. Cache misses never affect correctness — every
// caller must treat a miss the same as "not yet cached".
package cache

import (
	"sync"
	"time"

	"feedpoller/internal/domain/entity"
)

// Validators holds conditional-GET metadata for a canonical URL.
type Validators struct {
	ETag         string
	LastModified string
}

type entryRecord struct {
	value     any
	expiresAt time.Time
}

// Cache is a process-local, best-effort TTL store. It satisfies the
// engine's needs directly; it is a concrete type with no backend
// interface, so callers depend on *Cache itself.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entryRecord
}

// New builds an empty in-process cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entryRecord)}
}

// Get returns the stored value for key, or ok=false if absent or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entryRecord{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Ping reports cache availability; the in-process cache is always up.
func (c *Cache) Ping() error { return nil }

const (
	feedTTLDefault     = 5 * time.Minute
	validatorTTLDefault = time.Hour
)

func feedKey(canonicalURL string) string { return "feed:" + canonicalURL }
func metaKey(canonicalURL string) string { return "feed_meta:" + canonicalURL }

// GetFeed returns the cached parsed feed for a canonical URL, if present
// and non-expired. It never returns a feed with zero items — the Set
// counterpart refuses to store one.
func (c *Cache) GetFeed(canonicalURL string) (*entity.ParsedFeed, bool) {
	v, ok := c.Get(feedKey(canonicalURL))
	if !ok {
		return nil, false
	}
	pf, ok := v.(*entity.ParsedFeed)
	return pf, ok
}

// SetFeed stores a parsed feed, unless it has zero items (invariant: never
// cache an empty parsed feed).
func (c *Cache) SetFeed(canonicalURL string, pf *entity.ParsedFeed, ttl time.Duration) {
	if pf == nil || len(pf.Items) == 0 {
		return
	}
	if ttl <= 0 {
		ttl = feedTTLDefault
	}
	c.Set(feedKey(canonicalURL), pf, ttl)
}

// GetValidators returns cached ETag/Last-Modified metadata for a URL.
func (c *Cache) GetValidators(canonicalURL string) (Validators, bool) {
	v, ok := c.Get(metaKey(canonicalURL))
	if !ok {
		return Validators{}, false
	}
	val, ok := v.(Validators)
	return val, ok
}

// SetValidators stores conditional-GET metadata for a URL.
func (c *Cache) SetValidators(canonicalURL string, v Validators, ttl time.Duration) {
	if ttl <= 0 {
		ttl = validatorTTLDefault
	}
	c.Set(metaKey(canonicalURL), v, ttl)
}

// InvalidateFeed drops both the feed and validator entries for a URL; used
// when a 304 response arrives but nothing usable is cached.
func (c *Cache) InvalidateFeed(canonicalURL string) {
	c.Delete(feedKey(canonicalURL))
	c.Delete(metaKey(canonicalURL))
}
