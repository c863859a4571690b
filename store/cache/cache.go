// Package cache implements the in-memory snapshot of key->value state:
// recency tracking with bounded LRU eviction over a declared evictable
// subset, a nullish-key set distinguishing "never read" from "confirmed
// absent", and a named pending-task registry that clear uses to let
// concurrent writers serialize against it.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tailored-agentic-units/storecore/store/value"
)

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	values  map[string]*value.Value
	nullish map[string]struct{}

	evictable map[string]struct{}
	recency   *lru.Cache[string, struct{}]

	tasksMu sync.Mutex
	tasks   map[string]*pendingTask
}

// Options configures recency tracking. MaxCachedKeysCount of 0 disables
// eviction entirely; Cache takes whatever the caller resolved, leaving the
// default value to config.DefaultConfig.
type Options struct {
	EvictableKeys      []string
	MaxCachedKeysCount int
}

// New creates an empty Cache.
func New(opts Options) *Cache {
	c := &Cache{
		values:    make(map[string]*value.Value),
		nullish:   make(map[string]struct{}),
		evictable: make(map[string]struct{}, len(opts.EvictableKeys)),
		tasks:     make(map[string]*pendingTask),
	}
	for _, k := range opts.EvictableKeys {
		c.evictable[k] = struct{}{}
	}
	if opts.MaxCachedKeysCount > 0 {
		// The LRU only tracks recency; the store's storage-retry path
		// drives the actual key removal from cache+storage so it can also
		// issue the storage-side delete.
		c.recency, _ = lru.New[string, struct{}](opts.MaxCachedKeysCount)
	}
	return c
}

// Get returns the cached value for key and whether it is present. A key
// with value Null() is present; a key never written is not.
func (c *Cache) Get(key string) (*value.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is present in the cache.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// HasValueChanged reports whether v differs structurally from the cached
// value for key, or the key is uncached.
func (c *Cache) HasValueChanged(key string, v *value.Value) bool {
	c.mu.RLock()
	existing, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	return !value.Equal(existing, v)
}

// Set writes v for key and touches its recency entry if key is evictable.
func (c *Cache) Set(key string, v *value.Value) {
	c.mu.Lock()
	c.values[key] = v
	if value.IsNull(v) {
		c.nullish[key] = struct{}{}
	} else {
		delete(c.nullish, key)
	}
	_, evictable := c.evictable[key]
	c.mu.Unlock()

	if evictable && c.recency != nil {
		c.recency.Add(key, struct{}{})
	}
}

// Delete removes key from the cache entirely (distinct from Set(key,
// Null()): a deleted key is "never read", not "confirmed absent").
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	delete(c.nullish, key)
	c.mu.Unlock()

	if c.recency != nil {
		c.recency.Remove(key)
	}
}

// IsNullish reports whether key is known to hold JSON null in storage.
func (c *Cache) IsNullish(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nullish[key]
	return ok
}

// Keys returns a snapshot of every cached key.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	return out
}

// Entries returns a snapshot of every cached key whose value is present,
// restricted to those with the given prefix (pass "" for all keys).
func (c *Cache) Entries(prefix string) map[string]*value.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*value.Value)
	for k, v := range c.values {
		if prefix == "" || len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = v
		}
	}
	return out
}

// LeastRecentlyUsedEvictable returns the least-recently-touched evictable
// key still resident, or "" if none are tracked. Used by the store's
// storage-retry path to free pressure on a storage failure.
func (c *Cache) LeastRecentlyUsedEvictable() (string, bool) {
	if c.recency == nil {
		return "", false
	}
	keys := c.recency.Keys()
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}
