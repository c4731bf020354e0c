package resilience

import (
	"context"
	"sync"
	"time"
)

// Pattern: Circuit Breaker — fast-fails calls to an unhealthy dependency and
// auto-recovers via a half-open probe window (§4.4). The state machine is
// guarded by a single coarse mutex: the admission/transition decision is made
// entirely inside the lock, the wrapped operation always runs outside it, and
// listeners are only ever notified after the transition has committed.

// CircuitState is one of the three states a [CircuitBreaker] can be in.
type CircuitState int

const (
	// StateClosed passes calls through and counts failures.
	StateClosed CircuitState = iota
	// StateOpen rejects every call immediately with [ErrBreakerOpen].
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls to decide
	// whether to close or re-open.
	StateHalfOpen
)

// String renders the state the way it is named in the transition table.
func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerStateChange is emitted whenever a transition actually changes
// the breaker's state (never on a no-op admission check).
type CircuitBreakerStateChange struct {
	From CircuitState
	To   CircuitState
}

// CircuitBreakerStatistics is a point-in-time snapshot of a breaker's
// counters, safe to read without further synchronization.
type CircuitBreakerStatistics struct {
	State             CircuitState
	FailureCount      int
	HalfOpenSuccesses int
}

type (
	circuitBreakerConfig struct {
		failureThreshold      int
		halfOpenSuccessThresh int
		halfOpenMaxCalls      int
		resetTimeout          time.Duration
	}

	// CircuitBreakerOption configures a [CircuitBreaker] at construction time.
	CircuitBreakerOption func(*circuitBreakerConfig)

	// CircuitBreaker is a three-state (Closed/Open/HalfOpen) failure-isolating
	// gate in front of a dependency (§4.4).
	CircuitBreaker struct {
		clock Clock
		bus   *EventBus[CircuitBreakerStateChange]
		cfg   circuitBreakerConfig

		mu                sync.Mutex
		state             CircuitState
		failureCount      int
		halfOpenSuccesses int
		halfOpenInFlight  int
		lastFailureTime   time.Time
	}
)

func defaultCircuitBreakerConfig() circuitBreakerConfig {
	return circuitBreakerConfig{
		failureThreshold:      5,
		halfOpenSuccessThresh: 1,
		halfOpenMaxCalls:      1,
		resetTimeout:          30 * time.Second,
	}
}

// FailureThreshold sets the number of consecutive Closed-state failures
// needed to trip the breaker open.
func FailureThreshold(n int) CircuitBreakerOption {
	return func(cfg *circuitBreakerConfig) { cfg.failureThreshold = n }
}

// ResetTimeout sets how long the breaker stays Open before admitting a
// HalfOpen probe.
func ResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cfg *circuitBreakerConfig) { cfg.resetTimeout = d }
}

// HalfOpenSuccessThreshold sets the number of HalfOpen successes needed to
// close the breaker again.
func HalfOpenSuccessThreshold(n int) CircuitBreakerOption {
	return func(cfg *circuitBreakerConfig) { cfg.halfOpenSuccessThresh = n }
}

// HalfOpenMaxCalls bounds how many probe calls may be in flight at once while
// the breaker is HalfOpen.
func HalfOpenMaxCalls(n int) CircuitBreakerOption {
	return func(cfg *circuitBreakerConfig) { cfg.halfOpenMaxCalls = n }
}

// NewCircuitBreaker creates a circuit breaker with the given options. A nil
// bus is treated as "no listeners". Panics with [InvalidArgumentError] if
// the resolved config violates the ranges in §6.
func NewCircuitBreaker(clock Clock, bus *EventBus[CircuitBreakerStateChange], opts ...CircuitBreakerOption) *CircuitBreaker {
	cfg := defaultCircuitBreakerConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if err := cfg.validate(); err != nil {
		panic(err)
	}

	return &CircuitBreaker{clock: clock, bus: bus, cfg: cfg, state: StateClosed}
}

func (cfg circuitBreakerConfig) validate() error {
	if cfg.failureThreshold <= 0 {
		return InvalidArgument("failureThreshold must be > 0")
	}

	if cfg.resetTimeout <= 0 {
		return InvalidArgument("resetTimeout must be > 0")
	}

	if cfg.halfOpenSuccessThresh <= 0 {
		return InvalidArgument("halfOpenSuccessThreshold must be > 0")
	}

	if cfg.halfOpenMaxCalls <= 0 {
		return InvalidArgument("halfOpenMaxCalls must be > 0")
	}

	return nil
}

// admit performs the admission transaction (§4.4 "Admission is
// transactional"): it decides, under the lock, whether a call may proceed,
// performing any Open→HalfOpen transition inline. It returns whether the call
// is admitted, and if so a release func used to record the outcome, plus the
// transition (if any) to emit once outside the lock.
func (cb *CircuitBreaker) admit() (admitted bool, release func(success bool) CircuitBreakerStateChange, changed *CircuitBreakerStateChange) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Since(cb.lastFailureTime) < cb.cfg.resetTimeout {
			return false, nil, nil
		}

		from := cb.state
		cb.state = StateHalfOpen
		cb.halfOpenSuccesses = 0
		cb.halfOpenInFlight = 0
		transition := CircuitBreakerStateChange{From: from, To: StateHalfOpen}

		return cb.admitLocked(&transition)
	case StateHalfOpen:
		return cb.admitLocked(nil)
	default:
		return cb.admitLocked(nil)
	}
}

// admitLocked must be called with cb.mu held. It finishes the admission
// decision for the current (possibly just-transitioned) state.
func (cb *CircuitBreaker) admitLocked(pending *CircuitBreakerStateChange) (bool, func(bool) CircuitBreakerStateChange, *CircuitBreakerStateChange) {
	if cb.state == StateHalfOpen {
		if cb.halfOpenInFlight >= cb.cfg.halfOpenMaxCalls {
			return false, nil, pending
		}

		cb.halfOpenInFlight++
	}

	return true, cb.recordOutcome, pending
}

// recordOutcome performs the state-transition half of the transaction after
// the wrapped operation has run outside the lock (§4.4 transition table).
func (cb *CircuitBreaker) recordOutcome(success bool) CircuitBreakerStateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state

	switch cb.state {
	case StateClosed:
		if success {
			cb.failureCount = 0

			break
		}

		cb.failureCount++
		if cb.failureCount >= cb.cfg.failureThreshold {
			cb.state = StateOpen
			cb.lastFailureTime = cb.clock.Now()
		}

	case StateHalfOpen:
		cb.halfOpenInFlight--

		if !success {
			cb.state = StateOpen
			cb.lastFailureTime = cb.clock.Now()
			cb.halfOpenSuccesses = 0

			break
		}

		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.halfOpenSuccessThresh {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.halfOpenSuccesses = 0
		}

	case StateOpen:
		// Already open; an in-flight half-open probe that lost the race
		// with a concurrent trip lands here. No further state change.
	}

	return CircuitBreakerStateChange{From: from, To: cb.state}
}

func (cb *CircuitBreaker) emitIfChanged(t CircuitBreakerStateChange) {
	if cb.bus != nil && t.From != t.To {
		cb.bus.Emit(t)
	}
}

// Execute runs op if the breaker admits the call, recording the outcome
// against the state machine. A context cancellation is treated as neither a
// success nor a failure: it is not counted in either direction (§4.4 implies
// only op-level success/failure drive the transition table; a caller giving
// up is not a dependency health signal).
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	admitted, release, pending := cb.admit()
	if pending != nil {
		cb.emitIfChanged(*pending)
	}

	if !admitted {
		return ErrBreakerOpen
	}

	err := op(ctx)

	if ctx.Err() != nil && err != nil {
		// Caller-side cancellation: undo the reservation without scoring it.
		cb.mu.Lock()
		if cb.state == StateHalfOpen {
			cb.halfOpenInFlight--
		}
		cb.mu.Unlock()

		return err
	}

	transition := release(err == nil)
	cb.emitIfChanged(transition)

	return err
}

// ExecuteOrFallback behaves like [Execute] but calls fallback(err) instead of
// returning the error directly, for both admission rejection and op failure.
func (cb *CircuitBreaker) ExecuteOrFallback(
	ctx context.Context,
	op func(context.Context) error,
	fallback func(error) error,
) error {
	if err := cb.Execute(ctx, op); err != nil {
		return fallback(err)
	}

	return nil
}

// Reset forces the breaker back to Closed, clearing all counters, and emits a
// StateChange if the state actually changed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenSuccesses = 0
	cb.halfOpenInFlight = 0
	cb.mu.Unlock()

	cb.emitIfChanged(CircuitBreakerStateChange{From: from, To: StateClosed})
}

// Trip forces the breaker to Open, as if the failure threshold had just been
// reached, and emits a StateChange if the state actually changed.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateOpen
	cb.lastFailureTime = cb.clock.Now()
	cb.mu.Unlock()

	cb.emitIfChanged(CircuitBreakerStateChange{From: from, To: StateOpen})
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Statistics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Statistics() CircuitBreakerStatistics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStatistics{
		State:             cb.state,
		FailureCount:      cb.failureCount,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
	}
}

// ResetStatistics zeroes the failure/success counters without touching the
// current state.
func (cb *CircuitBreaker) ResetStatistics() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.halfOpenSuccesses = 0
}
