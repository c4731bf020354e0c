package resilience

import (
	"sync"
	"time"
)

// Pattern: Sliding Window — an ordered sequence of admission timestamps is
// pruned, tested, and (on admission) appended to as one atomic action under
// a single mutex (§4.7).

type (
	slidingWindowConfig struct {
		maxRequests    int
		windowDuration time.Duration
	}

	// SlidingWindowOption configures a [SlidingWindowLimiter] at
	// construction time.
	SlidingWindowOption func(*slidingWindowConfig)

	// SlidingWindowLimiter admits at most maxRequests calls within any
	// trailing windowDuration.
	SlidingWindowLimiter struct {
		cfg slidingWindowConfig

		mu         sync.Mutex
		timestamps []time.Time
	}
)

func defaultSlidingWindowConfig() slidingWindowConfig {
	return slidingWindowConfig{
		maxRequests:    100,
		windowDuration: time.Minute,
	}
}

// MaxRequests sets the admission cap within the window.
func MaxRequests(n int) SlidingWindowOption {
	return func(cfg *slidingWindowConfig) { cfg.maxRequests = n }
}

// WindowDuration sets the trailing window size.
func WindowDuration(d time.Duration) SlidingWindowOption {
	return func(cfg *slidingWindowConfig) { cfg.windowDuration = d }
}

// NewSlidingWindowLimiter creates a sliding window limiter with the given
// options. Panics with [InvalidArgumentError] if the resolved config violates
// the ranges in §6.
func NewSlidingWindowLimiter(opts ...SlidingWindowOption) *SlidingWindowLimiter {
	cfg := defaultSlidingWindowConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if err := cfg.validate(); err != nil {
		panic(err)
	}

	return &SlidingWindowLimiter{cfg: cfg}
}

func (cfg slidingWindowConfig) validate() error {
	if cfg.maxRequests <= 0 {
		return InvalidArgument("maxRequests must be > 0")
	}

	if cfg.windowDuration <= 0 {
		return InvalidArgument("windowDuration must be > 0")
	}

	return nil
}

// TryExecute admits the call at time now iff fewer than maxRequests
// timestamps remain in the trailing window after pruning. Rejection returns
// [ErrRateLimitExceeded].
func (l *SlidingWindowLimiter) TryExecute(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	if len(l.timestamps) >= l.cfg.maxRequests {
		return ErrRateLimitExceeded
	}

	l.timestamps = append(l.timestamps, now)

	return nil
}

// pruneLocked must be called with l.mu held. It drops every timestamp at or
// before now - windowDuration, preserving order (oldest first); the window is
// (now-windowDuration, now], open at the lower bound.
func (l *SlidingWindowLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.windowDuration)

	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}

	if i > 0 {
		l.timestamps = append(l.timestamps[:0:0], l.timestamps[i:]...)
	}
}

// CurrentCount reports how many timestamps remain in the trailing window as
// of now, after pruning.
func (l *SlidingWindowLimiter) CurrentCount(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	return len(l.timestamps)
}
