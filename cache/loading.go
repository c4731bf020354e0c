package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// LoadingCache wraps a [Cache] with a loader function, guaranteeing that
// concurrent misses for the same key collapse into a single in-flight
// load (§4.9 "Single-flight loading"). Implementation note: singleflight's
// own per-key inflight-call map is exactly the "per-key inflight map
// holding a shared future, removed once resolved" the spec describes —
// hand-rolling it would duplicate a solved, heavily-used library.
type LoadingCache[K comparable, V any] struct {
	cache  *Cache[K, V]
	loader func(context.Context, K) (V, error)
	group  singleflight.Group
}

// NewLoadingCache wraps cache so that GetOrPut calls loader at most once per
// key among any set of concurrent callers.
func NewLoadingCache[K comparable, V any](cache *Cache[K, V], loader func(context.Context, K) (V, error)) *LoadingCache[K, V] {
	return &LoadingCache[K, V]{cache: cache, loader: loader}
}

// GetOrPut returns the cached value for key if present, otherwise loads it.
// Concurrent callers missing on the same key share one loader call and
// either all receive its result or all observe its error; once that call
// resolves, a later miss starts an independent load (§4.9).
func (lc *LoadingCache[K, V]) GetOrPut(ctx context.Context, key K) (V, error) {
	if v, ok := lc.cache.Get(key); ok {
		return v, nil
	}

	flightKey := fmt.Sprintf("%v", key)

	result, err, _ := lc.group.Do(flightKey, func() (any, error) {
		v, loadErr := lc.loader(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		lc.cache.Put(key, v)

		return v, nil
	})
	if err != nil {
		var zero V

		return zero, err
	}

	return result.(V), nil
}

// Underlying returns the [Cache] backing this LoadingCache, for callers that
// need direct access to Remove, Clear, Statistics, and the like.
func (lc *LoadingCache[K, V]) Underlying() *Cache[K, V] {
	return lc.cache
}
