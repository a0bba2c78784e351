package pathengine

import lru "github.com/hashicorp/golang-lru/v2"

// cacheKey is a (side, path) pair: the same path string means different
// things translated from the guest side versus the host side.
type cacheKey struct {
	side Side
	path string
}

// Cache memoizes path translation the way the teacher's AgentFS memoizes
// directory-entry resolution in an LRU of bounded size: binding lookups
// walk an ordered list per component, and heavily reused guest trees
// (library search paths, /usr prefixes) resolve the same handful of
// paths over and over during a single traced program's lifetime.
type Cache struct {
	lru *lru.Cache[cacheKey, string]
}

// NewCache builds a translation cache holding up to size entries. A nil
// *Cache is valid and simply disables caching (GetOrCompute always
// computes).
func NewCache(size int) *Cache {
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		// Only returned for size <= 0.
		return nil
	}
	return &Cache{lru: c}
}

// GetOrCompute returns the cached translation of (side, path) if present,
// otherwise calls compute, caches its result, and returns it.
func (c *Cache) GetOrCompute(side Side, path string, compute func() (string, error)) (string, error) {
	if c == nil {
		return compute()
	}
	if v, ok := c.lru.Get(cacheKey{side, path}); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	c.lru.Add(cacheKey{side, path}, v)
	return v, nil
}

// Purge drops every cached entry, needed whenever a binding is added or
// removed after startup (the glue filesystem, a shortened socket path)
// since either can change what a previously cached path resolves to.
func (c *Cache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
