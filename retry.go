package resilience

import (
	"context"
	"fmt"
	"time"
)

// Pattern: Retry/Repeat with Backoff — masks transient failures (Retry) or
// keeps calling until a condition holds (Repeat), driven by a composable
// [Schedule] with per-attempt jitter (§4.3).

type (
	// RetryEvent is emitted before each back-off sleep during a retry loop.
	RetryEvent struct {
		Err     error
		Delay   time.Duration
		Attempt int // 1-indexed: the attempt that just failed.
	}

	// RepeatEvent is emitted after each repeat attempt that returns no
	// error; RepeatWhile emits it only for the results it collects.
	RepeatEvent struct {
		Attempt int // 0-indexed.
	}

	// AttemptRecord captures one attempt's outcome for [RetryWithHistory].
	AttemptRecord[T any] struct {
		Err      error
		Result   T
		Duration time.Duration
	}

	// RetryHistory is returned by [RetryWithHistory]: every attempt made,
	// in order, plus the wall-clock time the whole retry loop took.
	RetryHistory[T any] struct {
		Attempts      []AttemptRecord[T]
		TotalDuration time.Duration
	}

	retryConfig struct {
		retryIf func(error) bool
	}

	// RetryOption configures optional retry behavior.
	RetryOption func(*retryConfig)
)

// RetryIfPredicate restricts retries to errors for which pred returns true;
// errors pred rejects propagate unchanged, without consuming a schedule
// step or sleeping (§4.3 "retryIf never catches errors rejected by the
// predicate").
func RetryIfPredicate(pred func(error) bool) RetryOption {
	return func(c *retryConfig) { c.retryIf = pred }
}

func cancelledErr(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}

// Retry executes fn, consulting sched (driven by fn's errors) after each
// failure to decide whether and when to try again. attempts = 1 + retries
// (§4.3 contract). A nil bus is treated as "no listeners".
func Retry[T any](
	ctx context.Context,
	sched Schedule[error],
	clock Clock,
	bus *EventBus[RetryEvent],
	fn func(context.Context) (T, error),
	opts ...RetryOption,
) (T, error) {
	var cfg retryConfig
	for _, o := range opts {
		o(&cfg)
	}

	var zero T

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return zero, cancelledErr(ctx)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if IsPermanent(err) {
			return zero, err
		}

		if cfg.retryIf != nil && !cfg.retryIf(err) {
			return zero, err
		}

		decision := sched.Next(attempt, err)
		if !decision.Continue {
			return zero, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		if bus != nil {
			bus.Emit(RetryEvent{Attempt: attempt + 1, Err: err, Delay: decision.Delay})
		}

		if decision.Delay <= 0 {
			continue
		}

		if werr := waitOrCancel(ctx, clock, decision.Delay); werr != nil {
			return zero, werr
		}
	}
}

// waitOrCancel sleeps for d using clock's timer, returning cancelledErr(ctx)
// if ctx is cancelled first.
func waitOrCancel(ctx context.Context, clock Clock, d time.Duration) error {
	timer := clock.NewTimer(d)

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		timer.Stop()

		return cancelledErr(ctx)
	}
}

// RetryOrDefault behaves like [Retry] but returns def instead of an error
// when every attempt fails.
func RetryOrDefault[T any](
	ctx context.Context,
	sched Schedule[error],
	clock Clock,
	bus *EventBus[RetryEvent],
	def T,
	fn func(context.Context) (T, error),
	opts ...RetryOption,
) T {
	result, err := Retry(ctx, sched, clock, bus, fn, opts...)
	if err != nil {
		return def
	}

	return result
}

// RetryWithHistory behaves like [Retry] but additionally returns the full
// list of attempts made and the total wall-clock duration.
func RetryWithHistory[T any](
	ctx context.Context,
	sched Schedule[error],
	clock Clock,
	bus *EventBus[RetryEvent],
	fn func(context.Context) (T, error),
	opts ...RetryOption,
) (RetryHistory[T], error) {
	var cfg retryConfig
	for _, o := range opts {
		o(&cfg)
	}

	start := clock.Now()

	history := RetryHistory[T]{}

	var finalErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			finalErr = cancelledErr(ctx)

			break
		}

		attemptStart := clock.Now()
		result, err := fn(ctx)
		rec := AttemptRecord[T]{Result: result, Err: err, Duration: clock.Since(attemptStart)}
		history.Attempts = append(history.Attempts, rec)

		if err == nil {
			finalErr = nil

			break
		}

		if IsPermanent(err) || (cfg.retryIf != nil && !cfg.retryIf(err)) {
			finalErr = err

			break
		}

		decision := sched.Next(attempt, err)
		if !decision.Continue {
			finalErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)

			break
		}

		if bus != nil {
			bus.Emit(RetryEvent{Attempt: attempt + 1, Err: err, Delay: decision.Delay})
		}

		if decision.Delay > 0 {
			if werr := waitOrCancel(ctx, clock, decision.Delay); werr != nil {
				finalErr = werr

				break
			}
		}
	}

	history.TotalDuration = clock.Since(start)

	return history, finalErr
}

// RepeatUntil runs fn up to maxAttempts times, stopping and returning the
// first result that satisfies predicate. If no attempt satisfies predicate
// within maxAttempts, it fails with [ConditionNotMet] (§4.3).
func RepeatUntil[T any](
	ctx context.Context,
	maxAttempts int,
	predicate func(T) bool,
	bus *EventBus[RepeatEvent],
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := range maxAttempts {
		if ctx.Err() != nil {
			return zero, cancelledErr(ctx)
		}

		result, err := fn(ctx)
		if err != nil {
			return zero, err
		}

		if bus != nil {
			bus.Emit(RepeatEvent{Attempt: attempt})
		}

		if predicate(result) {
			return result, nil
		}
	}

	return zero, ConditionNotMet(maxAttempts)
}

// RepeatWhile runs fn up to maxAttempts times, collecting every result for
// which predicate returns true, stopping at the first false or at the cap.
// The returned slice may be empty only if the very first call's result
// fails predicate (§4.3).
func RepeatWhile[T any](
	ctx context.Context,
	maxAttempts int,
	predicate func(T) bool,
	bus *EventBus[RepeatEvent],
	fn func(context.Context) (T, error),
) ([]T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var results []T

	for attempt := range maxAttempts {
		if ctx.Err() != nil {
			return results, cancelledErr(ctx)
		}

		result, err := fn(ctx)
		if err != nil {
			return results, err
		}

		if !predicate(result) {
			break
		}

		results = append(results, result)

		if bus != nil {
			bus.Emit(RepeatEvent{Attempt: attempt})
		}
	}

	return results, nil
}

// RepeatAndCollect repeats fn, consulting sched (driven by fn's successful
// values) after each call, collecting every result until the schedule says
// stop. Cancellation aborts the loop immediately with [ErrCancelled].
func RepeatAndCollect[T any](
	ctx context.Context,
	sched Schedule[T],
	clock Clock,
	bus *EventBus[RepeatEvent],
	fn func(context.Context) (T, error),
) ([]T, error) {
	var results []T

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return results, cancelledErr(ctx)
		}

		result, err := fn(ctx)
		if err != nil {
			return results, err
		}

		results = append(results, result)

		if bus != nil {
			bus.Emit(RepeatEvent{Attempt: attempt})
		}

		decision := sched.Next(attempt, result)
		if !decision.Continue {
			return results, nil
		}

		if decision.Delay > 0 {
			if werr := waitOrCancel(ctx, clock, decision.Delay); werr != nil {
				return results, werr
			}
		}
	}
}
