package verify

import (
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// CacheKey derives the cache key for a rule run. It depends only on the rule
// id, the set of files (order-insensitive) and the edit id.
func CacheKey(ruleID string, files []string, editID string) string {
	sorted := slices.Clone(files)
	slices.Sort(sorted)

	h := blake3.New()
	_, _ = h.Write([]byte(ruleID))
	_, _ = h.Write([]byte{0})
	for _, f := range sorted {
		_, _ = h.Write([]byte(f))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte(editID))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	result   *RuleResult
	storedAt time.Time
}

// Cache stores rule results by key, plus free-form values validators may
// share within an engine.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	values  map[string]any
	now     func() time.Time
}

// NewCache creates a cache whose entries expire after ttl (0 = never)
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		values:  make(map[string]any),
		now:     time.Now,
	}
}

// Get returns a copy of the cached result for key
func (c *Cache) Get(key string) (*RuleResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.result.clone(), true
}

// Put stores a copy of result under key
func (c *Cache) Put(key string, result *RuleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result.clone(), storedAt: c.now()}
}

// Len returns the number of cached rule results
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every cached result and shared value
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.values = make(map[string]any)
}

// Value returns a shared value set by a validator
func (c *Cache) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// SetValue stores a shared value
func (c *Cache) SetValue(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}
