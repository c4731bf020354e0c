package resilience

import (
	"context"
	"sync"
	"time"
)

// Pattern: Token Bucket — continuous refill proportional to elapsed time,
// with refill and deduction performed as one atomic action under a single
// mutex (§4.6).

type (
	tokenBucketConfig struct {
		burstCapacity    float64
		permitsPerSecond float64
	}

	// TokenBucketOption configures a [TokenBucketLimiter] at construction
	// time.
	TokenBucketOption func(*tokenBucketConfig)

	// TokenBucketLimiter admits calls at a steady long-run rate
	// (permitsPerSecond) while allowing short bursts up to burstCapacity.
	TokenBucketLimiter struct {
		clock Clock
		cfg   tokenBucketConfig

		mu             sync.Mutex
		tokens         float64
		lastRefillTime time.Time
	}
)

func defaultTokenBucketConfig() tokenBucketConfig {
	return tokenBucketConfig{
		burstCapacity:    10,
		permitsPerSecond: 10,
	}
}

// BurstCapacity sets the maximum number of tokens the bucket can hold.
func BurstCapacity(n float64) TokenBucketOption {
	return func(cfg *tokenBucketConfig) { cfg.burstCapacity = n }
}

// PermitsPerSecond sets the steady-state refill rate.
func PermitsPerSecond(n float64) TokenBucketOption {
	return func(cfg *tokenBucketConfig) { cfg.permitsPerSecond = n }
}

// NewTokenBucketLimiter creates a token bucket limiter, starting full.
// Panics with [InvalidArgumentError] if the resolved config violates the
// ranges in §6.
func NewTokenBucketLimiter(clock Clock, opts ...TokenBucketOption) *TokenBucketLimiter {
	cfg := defaultTokenBucketConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if err := cfg.validate(); err != nil {
		panic(err)
	}

	return &TokenBucketLimiter{
		clock:          clock,
		cfg:            cfg,
		tokens:         cfg.burstCapacity,
		lastRefillTime: clock.Now(),
	}
}

func (cfg tokenBucketConfig) validate() error {
	if cfg.permitsPerSecond <= 0 {
		return InvalidArgument("permitsPerSecond must be > 0")
	}

	if cfg.burstCapacity <= 0 {
		return InvalidArgument("burstCapacity must be > 0")
	}

	return nil
}

// refillLocked must be called with l.mu held. It performs the refill step of
// §4.6: tokens = min(burstCapacity, tokens + elapsed*permitsPerSecond).
func (l *TokenBucketLimiter) refillLocked() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefillTime).Seconds()

	if elapsed <= 0 {
		return
	}

	l.tokens += elapsed * l.cfg.permitsPerSecond
	if l.tokens > l.cfg.burstCapacity {
		l.tokens = l.cfg.burstCapacity
	}

	l.lastRefillTime = now
}

// TryExecute admits n permits only if they are immediately available,
// rejecting with [ErrRateLimitExceeded] otherwise. It never sleeps.
func (l *TokenBucketLimiter) TryExecute(n float64) error {
	if n > l.cfg.burstCapacity {
		return InvalidArgument("permits exceed burst capacity")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	if l.tokens < n {
		return ErrRateLimitExceeded
	}

	l.tokens -= n

	return nil
}

// Execute blocks, sleeping and retrying, until n permits become available or
// ctx is cancelled. Each sleep lasts just long enough (rounded up by one
// nanosecond) for the refill to cover the current token deficit.
func (l *TokenBucketLimiter) Execute(ctx context.Context, n float64) error {
	if n > l.cfg.burstCapacity {
		return InvalidArgument("permits exceed burst capacity")
	}

	for {
		l.mu.Lock()
		l.refillLocked()

		if l.tokens >= n {
			l.tokens -= n
			l.mu.Unlock()

			return nil
		}

		deficit := n - l.tokens
		wait := time.Duration(deficit/l.cfg.permitsPerSecond*float64(time.Second)) + 1
		l.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return cancelledErr(ctx)
		}

		if werr := waitOrCancel(ctx, l.clock, wait); werr != nil {
			return werr
		}
	}
}

// AvailableTokens reports the current number of tokens, after performing a
// refill, without consuming any.
func (l *TokenBucketLimiter) AvailableTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	return l.tokens
}
