// Package ristretto provides an adapter for the Ristretto cache library,
// implementing the resilience.Cache interface for use with resilience.StaleCache.
package ristretto

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/resilience-go/core"
)

type (
	// Key is the subset of ristretto.Key types that are also comparable,
	// required by the resilience.Cache interface.
	Key interface {
		uint64 | string | byte | int | int32 | uint32 | int64
	}

	// adapter wraps a ristretto.Cache to implement resilience.Cache. When
	// resetTTLOnAccess is set (via [resilience.CacheConfig].Options'
	// "reset_ttl_on_access"), a Get that hits re-extends the entry's TTL
	// from the point of access rather than letting it expire from the
	// original Set.
	adapter[K Key, V any] struct {
		cache            *ristretto.Cache[K, V]
		resetTTLOnAccess bool

		mu   sync.Mutex
		ttls map[K]time.Duration
	}
)

// MustNew creates an resilience.Cache backed by a Ristretto cache.
// K must satisfy [Key] (comparable subset of ristretto key types).
// MaxSize from [resilience.CacheConfig] configures the cache capacity.
// Ristretto recommends NumCounters = 10 * MaxSize for good performance.
// An Options["reset_ttl_on_access"] of true makes Get refresh an entry's TTL
// on every hit instead of leaving it tied to the original Set.
// It panics if the underlying Ristretto cache cannot be built.
//
//nolint:ireturn,varnamelen // generic type params K,V are idiomatic in Go
func MustNew[K Key, V any](cfg resilience.CacheConfig) resilience.Cache[K, V] {
	// nolint:mnd // Ristretto recommends 10x max size for num counters and 64
	// buffer items.
	cache, err := ristretto.NewCache(&ristretto.Config[K, V]{
		NumCounters: int64(cfg.MaxSize) * 10,
		MaxCost:     int64(cfg.MaxSize),
		BufferItems: 64,
	})
	if err != nil {
		panic("resilience/ristretto: failed to build cache: " + err.Error())
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
		a.cache.SetWithTTL(key, value, 1, ttl)
	}

	return value, ok
}

// Set stores a value with the given TTL.
func (a *adapter[K, V]) Set(key K, value V, ttl time.Duration) {
	a.cache.SetWithTTL(key, value, 1, ttl)

	if a.resetTTLOnAccess {
		a.mu.Lock()
		a.ttls[key] = ttl
		a.mu.Unlock()
	}
}

// Delete removes a cached entry by key.
func (a *adapter[K, V]) Delete(key K) {
	a.cache.Del(key)

	if a.resetTTLOnAccess {
		a.mu.Lock()
		delete(a.ttls, key)
		a.mu.Unlock()
	}
}
