package resilience

import "sync"

// Pattern: Registry — maps a string name to a single, lazily-created
// instance of a resilience primitive, so callers elsewhere in a process can
// share the same breaker/limiter/bulkhead for a given dependency by name
// instead of threading the instance through every call site (§6).

// Registry maps names to instances of T, created on demand. The zero value
// is not usable; construct with [NewRegistry].
type Registry[T any] struct {
	mu        sync.Mutex
	instances map[string]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{instances: make(map[string]T)}
}

// GetOrCreate returns the instance registered under name, calling build and
// registering its result if none exists yet. It is idempotent on name: the
// second and later calls for the same name return the same instance
// without invoking build again, even if a different build func is passed.
func (r *Registry[T]) GetOrCreate(name string, build func() T) T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.instances[name]; ok {
		return v
	}

	v := build()
	r.instances[name] = v

	return v
}

// Get returns the instance registered under name, if any.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.instances[name]

	return v, ok
}

// Remove deletes the instance registered under name, returning it if it was
// present.
func (r *Registry[T]) Remove(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.instances[name]
	if ok {
		delete(r.instances, name)
	}

	return v, ok
}

// Names returns every name currently registered, in no particular order.
func (r *Registry[T]) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}

	return names
}

// Len reports how many instances are currently registered.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.instances)
}

// ---------------------------------------------------------------------------
// HealthRegistry — aggregates HealthReporters into a readiness verdict.
// ---------------------------------------------------------------------------.

// HealthRegistry tracks [HealthReporter] instances and derives a readiness
// status from them.
//
// Pattern: Singleton — [DefaultHealthRegistry] uses sync.OnceValue for safe
// lazy init; explicit registries can still be created for testing or
// multi-tenant scenarios.
type HealthRegistry struct {
	mu        sync.Mutex
	reporters []HealthReporter
}

//nolint:gochecknoglobals // singleton via sync.OnceValue
var defaultHealthRegistry = sync.OnceValue(NewHealthRegistry)

// NewHealthRegistry creates an empty health registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{}
}

// Register adds a HealthReporter to the registry. Safe for concurrent use.
func (r *HealthRegistry) Register(hr HealthReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reporters = append(r.reporters, hr)
}

// CheckReadiness iterates all registered reporters and builds a
// ReadinessStatus. Ready is false if any reporter is CriticalityCritical and
// unhealthy.
func (r *HealthRegistry) CheckReadiness() ReadinessStatus {
	r.mu.Lock()
	reporters := make([]HealthReporter, len(r.reporters))
	copy(reporters, r.reporters)
	r.mu.Unlock()

	status := ReadinessStatus{
		Ready:    true,
		Policies: make([]PolicyStatus, 0, len(reporters)),
	}

	for _, hr := range reporters {
		ps := hr.HealthStatus()
		status.Policies = append(status.Policies, ps)

		if ps.Criticality == CriticalityCritical && !ps.Healthy {
			status.Ready = false
		}
	}

	return status
}

// DefaultHealthRegistry returns the package-level global health registry,
// creating it on first call.
func DefaultHealthRegistry() *HealthRegistry {
	return defaultHealthRegistry()
}
