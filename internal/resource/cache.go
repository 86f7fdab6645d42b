package resource

import (
	"sort"
	"sync"
)

// Cache stores completed resource content for one context.
//
// Entries are write-once. Thread-safety: all methods are safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Content
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]Content)}
}

// Get returns the entry for key.
func (c *Cache) Get(key Key) (Content, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Has reports whether key is cached.
func (c *Cache) Has(key Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores v under key unless an entry already exists.
// Returns false when the key was already set (the existing entry is kept).
func (c *Cache) Put(key Key, v Content) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = v
	return true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns all keys sorted by their string form.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]Content)
}
