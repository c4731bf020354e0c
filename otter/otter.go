// Package otter provides an adapter for the Otter cache library,
// implementing the resilience.Cache interface for use with resilience.StaleCache.
package otter

import (
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/resilience-go/core"
)

// adapter wraps an otter.CacheWithVariableTTL to implement resilience.Cache.
// When resetTTLOnAccess is set (via [resilience.CacheConfig].Options'
// "reset_ttl_on_access"), a Get that hits re-extends the entry's TTL from
// the point of access rather than letting it expire from the original Set.
type adapter[K comparable, V any] struct {
	cache            otter.CacheWithVariableTTL[K, V]
	resetTTLOnAccess bool

	mu   sync.Mutex
	ttls map[K]time.Duration
}

// MustNew creates an resilience.Cache backed by an Otter cache with per-entry TTL
// support.
// MaxSize from [resilience.CacheConfig] configures the underlying cache capacity.
// An Options["reset_ttl_on_access"] of true makes Get refresh an entry's TTL
// on every hit instead of leaving it tied to the original Set.
// It panics if the underlying Otter cache cannot be built.
//
//nolint:ireturn,varnamelen // generic type params K,V are idiomatic in Go
func MustNew[K comparable, V any](cfg resilience.CacheConfig) resilience.Cache[K, V] {
	cache, err := otter.MustBuilder[K, V](cfg.MaxSize).
		WithVariableTTL().
		Build()
	if err != nil {
		panic("resilience/otter: failed to build cache: " + err.Error())
	}

	reset, _ := cfg.Options["reset_ttl_on_access"].(bool)

	a := &adapter[K, V]{cache: cache, resetTTLOnAccess: reset}
	if reset {
		a.ttls = make(map[K]time.Duration)
	}

	return a
}

// Get retrieves a cached value by key, refreshing its TTL on a hit if
// resetTTLOnAccess is enabled.
//
//nolint:ireturn // generic type parameter V, not an interface
func (a *adapter[K, V]) Get(key K) (V, bool) {
	value, ok := a.cache.Get(key)
	if !ok || !a.resetTTLOnAccess {
		return value, ok
	}

	a.mu.Lock()
	ttl, tracked := a.ttls[key]
	a.mu.Unlock()

	if tracked {
		a.cache.Set(key, value, ttl)
	}

	return value, ok
}

// Set stores a value with the given TTL.
func (a *adapter[K, V]) Set(key K, value V, ttl time.Duration) {
	a.cache.Set(key, value, ttl)

	if a.resetTTLOnAccess {
		a.mu.Lock()
		a.ttls[key] = ttl
		a.mu.Unlock()
	}
}

// Delete removes a cached entry by key.
func (a *adapter[K, V]) Delete(key K) {
	a.cache.Delete(key)

	if a.resetTTLOnAccess {
		a.mu.Lock()
		delete(a.ttls, key)
		a.mu.Unlock()
	}
}
