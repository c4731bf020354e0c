// Package httpx provides a resilient HTTP client adapter for the
// resilience primitives library.
//
// Client wraps a standard http.Client with an optional circuit breaker and
// a user-provided status code classifier that maps HTTP response codes to
// transient or permanent errors.
package httpx
