// Package saga implements forward execution of a sequence of steps with
// reverse-order compensation on failure (§4.10).
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	resilience "github.com/resilience-go/core"
)

// Step is one stage of a [Saga]: a forward Action and an optional
// Compensate that undoes it. A nil Compensate means the step is skipped
// during compensation, without error (§4.10 "Steps lacking a compensation
// are skipped").
type Step struct {
	Action     func(context.Context) (any, error)
	Compensate func(context.Context, any) error
	Name       string
}

// Plain builds a [Step] with no compensation.
func Plain(name string, action func(context.Context) (any, error)) Step {
	return Step{Name: name, Action: action}
}

// WithCompensation attaches compensate to step, returning the updated step.
func WithCompensation(step Step, compensate func(context.Context, any) error) Step {
	step.Compensate = compensate

	return step
}

// TimeLimited wraps step's Action in tl, enforcing timeout on the forward
// action only (§4.10 "with per-step timeout (wraps in Time Limiter)").
func TimeLimited(step Step, tl *resilience.TimeLimiter, timeout time.Duration) Step {
	inner := step.Action
	step.Action = func(ctx context.Context) (any, error) {
		return tl.Execute(ctx, timeout, inner)
	}

	return step
}

// Retried wraps step's Action in the retry engine, driven by sched
// (§4.10 "with per-step retry (wraps in Retry engine)").
func Retried(
	step Step,
	sched resilience.Schedule[error],
	clock resilience.Clock,
	bus *resilience.EventBus[resilience.RetryEvent],
) Step {
	inner := step.Action
	step.Action = func(ctx context.Context) (any, error) {
		return resilience.Retry[any](ctx, sched, clock, bus, inner)
	}

	return step
}

// CompensationErrorKind distinguishes a compensation that ran and failed
// from one that never got the chance to finish.
type CompensationErrorKind int

const (
	// CompensationFailed means the step's Compensate function returned an
	// error.
	CompensationFailed CompensationErrorKind = iota
	// CompensationAbandoned means compensationTimeout elapsed before
	// Compensate returned (§9 Open Question: "Saga's compensationTimeout,
	// if set, is enforced and abandoned compensations are recorded").
	CompensationAbandoned
)

// CompensationError records one failed or abandoned compensation.
type CompensationError struct {
	Err  error
	Step string
	Kind CompensationErrorKind
}

func (e *CompensationError) Error() string {
	verb := "failed"
	if e.Kind == CompensationAbandoned {
		verb = "abandoned"
	}

	return fmt.Sprintf("saga: compensation for step %q %s: %v", e.Step, verb, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Success is returned when every step completed forward.
type Success struct {
	Result        any
	ExecutedSteps []string
	Duration      time.Duration
}

// Failure is returned when a step's Action failed; it satisfies error (via
// the wrapped [resilience.StepFailedError]) and carries everything that
// happened during compensation.
type Failure struct {
	Err                error
	CompensatedSteps   []string
	CompensationErrors []CompensationError
	Duration           time.Duration
}

func (f *Failure) Error() string { return f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

type config struct {
	continueOnCompensationFailure bool
	compensationTimeout           time.Duration
}

// Option configures a [Saga] at construction time.
type Option func(*config)

// ContinueOnCompensationFailure controls whether a failed compensation
// stops the reverse sweep or lets it continue to earlier steps. The
// default is true.
func ContinueOnCompensationFailure(b bool) Option {
	return func(c *config) { c.continueOnCompensationFailure = b }
}

// CompensationTimeout bounds the entire compensation phase, not any single
// step (§6 "aggregate bound"). Zero (the default) means unbounded. Once the
// deadline passes, remaining compensations are abandoned without being
// invoked and each is recorded as a [CompensationError] of kind
// [CompensationAbandoned]. Compensation runs against a context derived from
// [context.Background], not the caller's ctx, so that compensation is
// attempted even when the original ctx was the reason the forward action
// failed.
func CompensationTimeout(d time.Duration) Option {
	return func(c *config) { c.compensationTimeout = d }
}

// Saga executes an ordered list of steps forward, compensating in reverse
// order on failure (§4.10).
type Saga struct {
	clock resilience.Clock
	cfg   config
	steps []Step
}

// New creates a saga over steps, executed in the given order.
func New(clock resilience.Clock, steps []Step, opts ...Option) *Saga {
	cfg := config{continueOnCompensationFailure: true}
	for _, o := range opts {
		o(&cfg)
	}

	return &Saga{clock: clock, cfg: cfg, steps: steps}
}

// Execute runs every step forward in order. On success it returns a
// [Success] holding the last step's result. On the first step failure it
// wraps the cause as a [resilience.StepFailedError], compensates every
// already-executed step in reverse, and returns the resulting [*Failure]
// as the error.
func (s *Saga) Execute(ctx context.Context) (Success, error) {
	start := s.clock.Now()

	var (
		executedNames []string
		results       []any
	)

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			cause := fmt.Errorf("%w: %w", resilience.ErrCancelled, err)

			return Success{}, s.compensate(executedNames, results, cause, start)
		}

		res, err := step.Action(ctx)
		if err != nil {
			cause := resilience.StepFailed(step.Name, err)

			return Success{}, s.compensate(executedNames, results, cause, start)
		}

		executedNames = append(executedNames, step.Name)
		results = append(results, res)
	}

	var final any
	if len(results) > 0 {
		final = results[len(results)-1]
	}

	return Success{
		Result:        final,
		ExecutedSteps: executedNames,
		Duration:      s.clock.Since(start),
	}, nil
}

// errCompensationPhaseExpired is recorded against every step abandoned
// because the aggregate compensation deadline passed, whether or not that
// step's Compensate had actually started.
var errCompensationPhaseExpired = errors.New("saga: compensation phase deadline exceeded")

// compensate runs Compensate for every step in executedNames (which is
// always a prefix of s.steps), in reverse order, passing each the result it
// previously produced (§4.10). If compensationTimeout is set, it bounds the
// whole loop (§6 "aggregate bound"): once the deadline passes, every
// remaining step is abandoned without being invoked.
func (s *Saga) compensate(executedNames []string, results []any, cause error, start time.Time) *Failure {
	var (
		compensated []string
		compErrors  []CompensationError
	)

	hasDeadline := s.cfg.compensationTimeout > 0
	deadline := s.clock.Now().Add(s.cfg.compensationTimeout)
	abandoning := false

	for i := len(executedNames) - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}

		if !abandoning && hasDeadline {
			if remaining := deadline.Sub(s.clock.Now()); remaining <= 0 {
				abandoning = true
			}
		}

		if abandoning {
			compErrors = append(compErrors, CompensationError{
				Step: step.Name,
				Err:  errCompensationPhaseExpired,
				Kind: CompensationAbandoned,
			})

			continue
		}

		kind, err := s.runCompensation(step, results[i], hasDeadline, deadline)
		if err != nil {
			compErrors = append(compErrors, CompensationError{Step: step.Name, Err: err, Kind: kind})

			if kind == CompensationAbandoned {
				abandoning = true

				continue
			}

			if !s.cfg.continueOnCompensationFailure {
				break
			}

			continue
		}

		compensated = append(compensated, step.Name)
	}

	return &Failure{
		Err:                cause,
		CompensatedSteps:   compensated,
		CompensationErrors: compErrors,
		Duration:           s.clock.Since(start),
	}
}

// runCompensation runs step.Compensate, racing it against the aggregate
// deadline (if any) rather than giving it a fresh timeout of its own. A step
// that loses the race is reported as [CompensationAbandoned], same as a step
// that never got invoked because the deadline had already passed.
func (s *Saga) runCompensation(
	step Step,
	result any,
	hasDeadline bool,
	deadline time.Time,
) (CompensationErrorKind, error) {
	if !hasDeadline {
		if err := step.Compensate(context.Background(), result); err != nil {
			return CompensationFailed, err
		}

		return 0, nil
	}

	compCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan error, 1)

	go func() {
		resultCh <- step.Compensate(compCtx, result)
	}()

	timer := s.clock.NewTimer(deadline.Sub(s.clock.Now()))
	defer timer.Stop()

	select {
	case err := <-resultCh:
		if err == nil {
			return 0, nil
		}

		return CompensationFailed, err
	case <-timer.C():
		cancel()

		return CompensationAbandoned, errCompensationPhaseExpired
	}
}
