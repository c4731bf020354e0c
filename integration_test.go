package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// These tests exercise the spec's literal end-to-end scenarios through a
// [Registry], the way a caller wires primitives up in practice: build once
// by name, reuse the same instance on every subsequent lookup.
//
// S3 (bulkhead FIFO admission), S6 (saga reverse-order compensation), and S7
// (cache LRU eviction) are exercised in bulkhead_test.go, saga/saga_test.go,
// and cache/cache_test.go respectively, since they need those packages'
// own fake clocks.

func TestScenarioS1BreakerOpensAfterThreshold(t *testing.T) {
	clock := newVirtualClock()
	reg := NewRegistry[*CircuitBreaker]()

	breaker := reg.GetOrCreate("payments", func() *CircuitBreaker {
		return NewCircuitBreaker(clock, nil, FailureThreshold(3), ResetTimeout(time.Second))
	})

	userErr := errors.New("boom")
	failing := func(context.Context) error { return userErr }

	for i := range 3 {
		err := breaker.Execute(context.Background(), failing)
		if !errors.Is(err, userErr) {
			t.Fatalf("attempt %d: err = %v, want %v", i+1, err, userErr)
		}
	}

	if breaker.State() != StateOpen {
		t.Fatalf("State() = %v, want Open", breaker.State())
	}

	if err := breaker.Execute(context.Background(), failing); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("fourth call err = %v, want ErrBreakerOpen", err)
	}

	if got := breaker.Statistics().FailureCount; got != 3 {
		t.Fatalf("FailureCount = %d, want 3", got)
	}

	// Looking the breaker up again by the same name returns the identical
	// instance, not a freshly-built one.
	same, ok := reg.Get("payments")
	if !ok || same != breaker {
		t.Fatal("Get(\"payments\") did not return the breaker built by GetOrCreate")
	}
}

func TestScenarioS2BreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := newVirtualClock()
	breaker := NewCircuitBreaker(
		clock, nil,
		FailureThreshold(3),
		ResetTimeout(time.Second),
		HalfOpenSuccessThreshold(2),
	)

	userErr := errors.New("boom")
	for range 3 {
		_ = breaker.Execute(context.Background(), func(context.Context) error { return userErr })
	}

	clock.Advance(time.Second + time.Millisecond)

	succeed := func(context.Context) error { return nil }

	if err := breaker.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("first post-recovery call err = %v, want nil", err)
	}

	if breaker.State() != StateHalfOpen {
		t.Fatalf("State() after one success = %v, want HalfOpen", breaker.State())
	}

	if err := breaker.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("second post-recovery call err = %v, want nil", err)
	}

	if breaker.State() != StateClosed {
		t.Fatalf("State() after two successes = %v, want Closed", breaker.State())
	}

	if got := breaker.Statistics().FailureCount; got != 0 {
		t.Fatalf("FailureCount = %d, want 0", got)
	}
}

func TestScenarioS4TokenBucketRefillsOverTime(t *testing.T) {
	clock := newVirtualClock()
	limiter := NewTokenBucketLimiter(clock, PermitsPerSecond(10), BurstCapacity(2))

	if err := limiter.TryExecute(1); err != nil {
		t.Fatalf("first TryExecute() err = %v, want nil", err)
	}

	if err := limiter.TryExecute(1); err != nil {
		t.Fatalf("second TryExecute() err = %v, want nil", err)
	}

	if err := limiter.TryExecute(1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("third TryExecute() err = %v, want ErrRateLimitExceeded", err)
	}

	clock.Advance(100 * time.Millisecond)

	if err := limiter.TryExecute(1); err != nil {
		t.Fatalf("fourth TryExecute() after 100ms err = %v, want nil", err)
	}
}

func TestScenarioS5TimeLimiterCountsTimeout(t *testing.T) {
	clock := newVirtualClock()
	limiter := NewTimeLimiter(clock, TimeLimiterBuses{})

	cancelled := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := limiter.Execute(context.Background(), 50*time.Millisecond, func(ctx context.Context) (any, error) {
			<-ctx.Done()
			close(cancelled)

			return nil, ctx.Err()
		})
		done <- err
	}()

	clock.waitForTimers(1)
	clock.Advance(200 * time.Millisecond)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("op context was never cancelled on timeout")
	}

	if err := <-done; !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Execute() err = %v, want ErrTimedOut", err)
	}

	stats := limiter.Statistics()
	if stats.TimedOutCalls != 1 || stats.SuccessfulCalls != 0 {
		t.Fatalf("Statistics() = %+v, want TimedOutCalls=1 SuccessfulCalls=0", stats)
	}
}
