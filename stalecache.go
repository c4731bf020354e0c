package resilience

import (
	"context"
	"time"
)

// StaleCacheServed is emitted when a failed call is rescued by serving a
// previously cached value for the same key.
type StaleCacheServed[K comparable] struct{ Key K }

// StaleCacheRefreshed is emitted when a successful call's result is written
// back into the cache for the given key.
type StaleCacheRefreshed[K comparable] struct{ Key K }

// StaleCache wraps a keyed function call with stale-on-error caching. On
// success, the result is stored in the underlying [Cache]. On failure, the
// cached value for that key is returned if one is present.
//
// StaleCache is a standalone wrapper, not tied to any other primitive;
// compose it with a circuit breaker or retry by calling that primitive's
// Execute inside the function passed to Do.
type StaleCache[K comparable, V any] struct {
	cache     Cache[K, V]
	ttl       time.Duration
	servedBus *EventBus[StaleCacheServed[K]]
	freshBus  *EventBus[StaleCacheRefreshed[K]]
}

// StaleCacheBuses groups the optional event buses a [StaleCache] can emit
// to. Either field may be nil.
type StaleCacheBuses[K comparable] struct {
	OnStaleServed    *EventBus[StaleCacheServed[K]]
	OnCacheRefreshed *EventBus[StaleCacheRefreshed[K]]
}

// NewStaleCache creates a keyed stale cache backed by cache. ttl determines
// how long written entries remain valid, as passed through to cache.Set.
func NewStaleCache[K comparable, V any](
	cache Cache[K, V],
	ttl time.Duration,
	buses StaleCacheBuses[K],
) *StaleCache[K, V] {
	return &StaleCache[K, V]{
		cache:     cache,
		ttl:       ttl,
		servedBus: buses.OnStaleServed,
		freshBus:  buses.OnCacheRefreshed,
	}
}

// Do executes fn with key. On success, the result is cached and returned.
// On failure, a previously cached value for key is returned if one exists;
// otherwise fn's error is returned unchanged.
func (sc *StaleCache[K, V]) Do(
	ctx context.Context,
	key K,
	fn func(context.Context, K) (V, error),
) (V, error) {
	result, err := fn(ctx, key)
	if err == nil {
		sc.cache.Set(key, result, sc.ttl)

		if sc.freshBus != nil {
			sc.freshBus.Emit(StaleCacheRefreshed[K]{Key: key})
		}

		return result, nil
	}

	if cached, ok := sc.cache.Get(key); ok {
		if sc.servedBus != nil {
			sc.servedBus.Emit(StaleCacheServed[K]{Key: key})
		}

		return cached, nil
	}

	var zero V

	return zero, err
}
