package sla

import (
	"strings"
	"sync"
	"time"
)

// Cache is the injected cache service CalendarStore reads through.
// Invalidation is explicit (configuration edits); the TTL is a backstop
// against missed invalidations, so briefly stale reads are tolerable.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, v any)
	Delete(key string)
	DeletePrefix(prefix string)
	Purge()
}

// DefaultCacheTTL backstops explicit invalidation.
const DefaultCacheTTL = 5 * time.Minute

type ttlEntry struct {
	v       any
	expires time.Time
}

// TTLCache is a process-local map cache with per-entry expiry. Safe for
// concurrent use.
type TTLCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]ttlEntry
	now     func() time.Time
}

// NewTTLCache returns a cache whose entries expire after ttl.
func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TTLCache{ttl: ttl, entries: make(map[string]ttlEntry), now: time.Now}
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) Set(key string, v any) {
	c.mu.Lock()
	c.entries[key] = ttlEntry{v: v, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTLCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *TTLCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]ttlEntry)
	c.mu.Unlock()
}
