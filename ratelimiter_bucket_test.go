package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketAdmitsWithinBurst(t *testing.T) {
	clock := newVirtualClock()
	l := NewTokenBucketLimiter(clock, BurstCapacity(3), PermitsPerSecond(1))

	for range 3 {
		if err := l.TryExecute(1); err != nil {
			t.Fatalf("TryExecute err = %v, want nil", err)
		}
	}

	if err := l.TryExecute(1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded", err)
	}
}

// TestTokenBucketRefillsOverTime is scenario S4: tokens accumulate
// proportionally to elapsed time, capped at burstCapacity.
func TestTokenBucketRefillsOverTime(t *testing.T) {
	clock := newVirtualClock()
	l := NewTokenBucketLimiter(clock, BurstCapacity(5), PermitsPerSecond(1))

	for range 5 {
		_ = l.TryExecute(1)
	}

	if err := l.TryExecute(1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded before refill", err)
	}

	clock.Advance(2 * time.Second)

	if err := l.TryExecute(1); err != nil {
		t.Fatalf("err = %v, want nil after 2s refill at 1/s", err)
	}

	if err := l.TryExecute(1); err != nil {
		t.Fatalf("second err = %v, want nil (2 tokens refilled)", err)
	}

	if err := l.TryExecute(1); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("third err = %v, want ErrRateLimitExceeded (only 2 tokens refilled)", err)
	}
}

func TestTokenBucketNeverExceedsBurstCapacity(t *testing.T) {
	clock := newVirtualClock()
	l := NewTokenBucketLimiter(clock, BurstCapacity(5), PermitsPerSecond(10))

	clock.Advance(time.Hour)

	if got := l.AvailableTokens(); got != 5 {
		t.Fatalf("AvailableTokens = %v, want 5 (capped at burst)", got)
	}
}

func TestTokenBucketRejectsPermitsAboveBurstCapacity(t *testing.T) {
	clock := newVirtualClock()
	l := NewTokenBucketLimiter(clock, BurstCapacity(5), PermitsPerSecond(1))

	var iae *InvalidArgumentError
	if err := l.TryExecute(6); !errors.As(err, &iae) {
		t.Fatalf("err = %v, want *InvalidArgumentError", err)
	}
}

func TestTokenBucketExecuteBlocksUntilRefilled(t *testing.T) {
	clock := newVirtualClock()
	l := NewTokenBucketLimiter(clock, BurstCapacity(1), PermitsPerSecond(1))

	_ = l.TryExecute(1)

	done := make(chan error, 1)

	go func() {
		done <- l.Execute(context.Background(), 1)
	}()

	select {
	case err := <-done:
		t.Fatalf("Execute returned before any token was refilled: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute err = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after clock advanced past refill")
	}
}
