// Package resilience provides composable resilience primitives for Go
// applications: retry/repeat, circuit breaker, bulkhead, rate limiting
// (token bucket and sliding window), and a time limiter. A Saga
// coordinator lives in the saga subpackage and a bounded/evicting cache
// lives in the cache subpackage.
//
// Each primitive is independent, with its own functional-options
// configuration, its own [Clock]-driven test seam, and its own [EventBus]
// of domain events. Primitives compose by calling one inside another (a
// retry's op wrapping a circuit breaker's Execute, say) rather than
// through one combined policy type. [Registry] lets callers share a named
// instance of a primitive across call sites; [HealthRegistry] and
// [ReadinessHandler] expose aggregate health over HTTP for readiness
// probes.
package resilience
