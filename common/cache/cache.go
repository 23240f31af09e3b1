package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Backend defines interface for a Backend
type Backend[K ristretto.Key, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V) bool
}

// ristrettoCacheBackend is a RistrettoCache implemenentation of Backend
type ristrettoCacheBackend[K ristretto.Key, V any] struct {
	c *ristretto.Cache[K, V]
}

// Get a value from the cache
func (rcb *ristrettoCacheBackend[K, V]) Get(key K) (V, bool) { //nolint:ireturn
	return rcb.c.Get(key)
}

// Set a value in the cache. Ristretto admits values asynchronously, so the value is waited for.
func (rcb *ristrettoCacheBackend[K, V]) Set(key K, value V) bool {
	ok := rcb.c.Set(key, value, 1)
	rcb.c.Wait()
	return ok
}

// NewRistrettoCacheBackend construct an instance of a ristrettoCacheBackend holding at most maxItems entries.
func NewRistrettoCacheBackend[K ristretto.Key, V any](maxItems int64) (*ristrettoCacheBackend[K, V], error) {
	cache, err := ristretto.NewCache(
		&ristretto.Config[K, V]{
			NumCounters: maxItems * 10,
			MaxCost:     maxItems,
			BufferItems: 64,
			// Each entry costs one unit so MaxCost bounds the number of entries.
			IgnoreInternalCost: true,
		})
	if err != nil {
		return nil, fmt.Errorf("error initialising ristretto cache: %w", err)
	}
	return &ristrettoCacheBackend[K, V]{c: cache}, nil
}

// Cacheable makes a function cacheable by the given key
//
//nolint:ireturn
func Cacheable[K ristretto.Key, V any](key K, fn func() (V, error), c Backend[K, V]) (V, error) {
	if val, cacheHit := c.Get(key); cacheHit {
		return val, nil
	}
	val, err := fn()
	if err != nil {
		return val, fmt.Errorf("error retrieving cacheable value for key %v: %w", key, err)
	}
	c.Set(key, val)
	return val, nil
}
