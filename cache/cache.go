// Package cache implements a keyed, bounded, TTL-scoped cache with
// pluggable eviction strategies, used as the storage layer behind
// [LoadingCache]'s single-flight loading contract.
package cache

import (
	"sync"
	"time"

	resilience "github.com/resilience-go/core"
)

// EvictionStrategy picks which entry to evict when a bounded cache is at
// capacity (§4.9).
type EvictionStrategy int

const (
	// LRU evicts the least recently accessed entry.
	LRU EvictionStrategy = iota
	// LFU evicts the entry with the fewest accesses, breaking ties by the
	// oldest creation time.
	LFU
	// FIFO evicts the oldest entry by creation time, regardless of access
	// pattern.
	FIFO
)

// EvictionReason distinguishes a TTL expiry from a capacity-driven
// eviction.
type EvictionReason int

const (
	// Expired means the entry was removed because its TTL elapsed.
	Expired EvictionReason = iota
	// Size means the entry was removed to make room under the capacity
	// limit.
	Size
)

// PutEvent is emitted every time an entry is inserted or replaced.
type PutEvent[K comparable, V any] struct {
	Key   K
	Value V
}

// RemoveEvent is emitted when an entry is explicitly removed via Remove or
// Clear.
type RemoveEvent[K comparable, V any] struct {
	Key   K
	Value V
}

// EvictionEvent is emitted when an entry is evicted by the cache itself,
// either due to expiry or capacity pressure.
type EvictionEvent[K comparable, V any] struct {
	Key    K
	Value  V
	Reason EvictionReason
}

// Statistics is a point-in-time snapshot of a cache's counters.
type Statistics struct {
	Hits      int
	Misses    int
	Evictions int
}

// Buses groups the three listener buses a [Cache] can emit to. Any field
// may be nil.
type Buses[K comparable, V any] struct {
	OnPut      *resilience.EventBus[PutEvent[K, V]]
	OnRemove   *resilience.EventBus[RemoveEvent[K, V]]
	OnEviction *resilience.EventBus[EvictionEvent[K, V]]
}

type entry[K comparable, V any] struct {
	key            K
	value          V
	createdAt      time.Time
	lastAccessTime time.Time
	accessCount    int
}

type config struct {
	ttl      time.Duration
	capacity int
	strategy EvictionStrategy
}

// Option configures a [Cache] at construction time.
type Option func(*config)

// WithTTL sets the time-to-live applied to every entry. Zero (the default)
// means entries never expire on their own.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithCapacity bounds the cache to at most n entries, evicting via the
// configured strategy once full. Zero (the default) means unbounded.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithEvictionStrategy selects which entry to evict at capacity. LRU is the
// default.
func WithEvictionStrategy(s EvictionStrategy) Option {
	return func(c *config) { c.strategy = s }
}

// Cache is a keyed, bounded, TTL-scoped cache (§4.9). The zero value is not
// usable; construct with [New].
type Cache[K comparable, V any] struct {
	clock resilience.Clock
	cfg   config
	buses Buses[K, V]

	mu        sync.Mutex
	entries   map[K]*entry[K, V]
	order     []K // access order, head = least recently used
	hits      int
	misses    int
	evictions int
}

// New creates a cache with the given options.
func New[K comparable, V any](clock resilience.Clock, buses Buses[K, V], opts ...Option) *Cache[K, V] {
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	return &Cache[K, V]{
		clock:   clock,
		cfg:     cfg,
		buses:   buses,
		entries: make(map[K]*entry[K, V]),
	}
}

// Get retrieves the value stored under key (§4.9 "For cache get"). A
// present-but-expired entry is evicted on read and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var (
		zero       V
		evicted    *entry[K, V]
		wasEvicted bool
	)

	c.mu.Lock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()

		return zero, false
	}

	if c.expiredLocked(e) {
		c.removeLocked(key)
		c.misses++
		evicted, wasEvicted = e, true
		c.mu.Unlock()

		if wasEvicted {
			c.emitEviction(evicted, Expired)
		}

		return zero, false
	}

	c.hits++
	e.lastAccessTime = c.clock.Now()
	e.accessCount++
	c.touchOrderLocked(key)
	value := e.value

	c.mu.Unlock()

	return value, true
}

func (c *Cache[K, V]) expiredLocked(e *entry[K, V]) bool {
	return c.cfg.ttl > 0 && c.clock.Since(e.createdAt) >= c.cfg.ttl
}

// Put inserts or replaces the value stored under key (§4.9 "For cache
// put"), evicting one entry per the configured strategy first if the cache
// is at capacity and key is not already present.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()

	var (
		evicted    *entry[K, V]
		reason     EvictionReason
		wasEvicted bool
	)

	if _, present := c.entries[key]; !present && c.cfg.capacity > 0 && len(c.entries) >= c.cfg.capacity {
		if victim, ok := c.pickVictimLocked(); ok {
			evicted = c.entries[victim]
			reason = Size
			wasEvicted = true
			c.removeLocked(victim)
		}
	}

	now := c.clock.Now()
	c.entries[key] = &entry[K, V]{
		key:            key,
		value:          value,
		createdAt:      now,
		lastAccessTime: now,
	}
	c.touchOrderLocked(key)

	c.mu.Unlock()

	if wasEvicted {
		c.emitEviction(evicted, reason)
	}

	if c.buses.OnPut != nil {
		c.buses.OnPut.Emit(PutEvent[K, V]{Key: key, Value: value})
	}
}

// pickVictimLocked must be called with c.mu held. It selects the entry to
// evict under the configured strategy (§4.9 "Eviction choice").
func (c *Cache[K, V]) pickVictimLocked() (K, bool) {
	var zero K

	if len(c.order) == 0 {
		return zero, false
	}

	switch c.cfg.strategy {
	case FIFO:
		var (
			victim K
			oldest time.Time
			found  bool
		)

		for k, e := range c.entries {
			if !found || e.createdAt.Before(oldest) {
				victim, oldest, found = k, e.createdAt, true
			}
		}

		return victim, found

	case LFU:
		var (
			victim   K
			minCount int
			oldest   time.Time
			found    bool
		)

		for k, e := range c.entries {
			if !found || e.accessCount < minCount ||
				(e.accessCount == minCount && e.createdAt.Before(oldest)) {
				victim, minCount, oldest, found = k, e.accessCount, e.createdAt, true
			}
		}

		return victim, found

	default: // LRU
		return c.order[0], true
	}
}

// touchOrderLocked must be called with c.mu held. It moves key to the tail
// of the access-order list, inserting it if absent.
func (c *Cache[K, V]) touchOrderLocked(key K) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)

			break
		}
	}

	c.order = append(c.order, key)
}

// removeLocked must be called with c.mu held. It deletes key from both the
// entry map and the access-order list.
func (c *Cache[K, V]) removeLocked(key K) {
	delete(c.entries, key)

	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)

			break
		}
	}
}

func (c *Cache[K, V]) emitEviction(e *entry[K, V], reason EvictionReason) {
	c.mu.Lock()
	c.evictions++
	c.mu.Unlock()

	if c.buses.OnEviction != nil {
		c.buses.OnEviction.Emit(EvictionEvent[K, V]{Key: e.key, Value: e.value, Reason: reason})
	}
}

// Remove deletes key, if present, reporting whether it was found. It emits
// onRemove, not onEviction: this is a caller-driven removal, not one the
// cache decided on its own.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()

	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()

		return false
	}

	c.removeLocked(key)
	c.mu.Unlock()

	if c.buses.OnRemove != nil {
		c.buses.OnRemove.Emit(RemoveEvent[K, V]{Key: e.key, Value: e.value})
	}

	return true
}

// Clear removes every entry, emitting onRemove for each.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	removed := make([]*entry[K, V], 0, len(c.entries))
	for _, e := range c.entries {
		removed = append(removed, e)
	}
	c.entries = make(map[K]*entry[K, V])
	c.order = nil
	c.mu.Unlock()

	if c.buses.OnRemove == nil {
		return
	}

	for _, e := range removed {
		c.buses.OnRemove.Emit(RemoveEvent[K, V]{Key: e.key, Value: e.value})
	}
}

// CleanUp purges every currently-expired entry and returns the count
// removed, emitting onEviction(reason=Expired) for each.
func (c *Cache[K, V]) CleanUp() int {
	c.mu.Lock()
	var expired []*entry[K, V]

	for k, e := range c.entries {
		if c.expiredLocked(e) {
			expired = append(expired, e)
			c.removeLocked(k)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.emitEviction(e, Expired)
	}

	return len(expired)
}

// Keys returns every key currently stored, including expired-but-not-yet-
// purged entries.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}

	return keys
}

// ValidKeys returns every key whose entry is not currently expired.
func (c *Cache[K, V]) ValidKeys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.entries))

	for k, e := range c.entries {
		if !c.expiredLocked(e) {
			keys = append(keys, k)
		}
	}

	return keys
}

// Size returns the total number of entries stored, including expired ones.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// ValidSize returns the number of entries that are not currently expired.
func (c *Cache[K, V]) ValidSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, e := range c.entries {
		if !c.expiredLocked(e) {
			n++
		}
	}

	return n
}

// Statistics returns a snapshot of the cache's hit/miss/eviction counters.
func (c *Cache[K, V]) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Statistics{Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// ResetStatistics zeroes the hit/miss/eviction counters.
func (c *Cache[K, V]) ResetStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
	c.evictions = 0
}
