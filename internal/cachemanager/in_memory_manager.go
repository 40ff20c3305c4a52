// Package cachemanager wraps the in-memory cache used for hot registry
// lookups. Entries are flushed wholesale whenever the registry state
// changes, so a hit can never serve a stale identifier.
package cachemanager

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/commonforge/itemregistry/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// NewInMemoryCacheManager initializes an in-memory cache for one use case.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// InMemoryCacheManager is a typed wrapper over the shared cache backend.
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// Get retrieves an entry by key.
func (c *InMemoryCacheManager[K, V]) Get(key K) (V, bool) {
	var zeroValue V

	value, found := c.cache.Get(string(key))
	if !found {
		return zeroValue, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatRegistry, "wrong type assertion when getting cached value",
			"use_case", c.useCase, "key", string(key))
		return zeroValue, false
	}

	return v, true
}

// Set stores an entry under key with the default expiration.
func (c *InMemoryCacheManager[K, V]) Set(key K, value V) {
	c.cache.Set(string(key), value, gocache.DefaultExpiration)
}

// Delete removes one entry.
func (c *InMemoryCacheManager[K, V]) Delete(key K) {
	c.cache.Delete(string(key))
}

// Flush drops every entry.
func (c *InMemoryCacheManager[K, V]) Flush() {
	c.cache.Flush()
	log.Debug(log.CatRegistry, "cache flushed", "use_case", c.useCase)
}

// Len returns the number of live entries.
func (c *InMemoryCacheManager[K, V]) Len() int {
	return c.cache.ItemCount()
}
