package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	resilience "github.com/resilience-go/core"
)

// fakeClock is a controllable [resilience.Clock] that also supports the
// timer machinery the aggregate compensation deadline races against.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) NewTimer(d time.Duration) resilience.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{fireAt: c.now.Add(d), ch: make(chan time.Time, 1), active: true}
	c.timers = append(c.timers, t)

	if d <= 0 {
		t.fire(c.now)
	}

	return t
}

// Advance moves the clock forward by d and fires every pending timer whose
// deadline has passed.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	pending := make([]*fakeTimer, len(c.timers))
	copy(pending, c.timers)
	c.mu.Unlock()

	for _, t := range pending {
		t.mu.Lock()
		shouldFire := t.active && !t.fireAt.After(now)
		t.mu.Unlock()

		if shouldFire {
			t.fire(now)
		}
	}
}

type fakeTimer struct {
	mu     sync.Mutex
	ch     chan time.Time
	fireAt time.Time
	active bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := t.active
	t.active = false

	return wasActive
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := t.active
	t.active = true
	t.fireAt = t.fireAt.Add(d)

	return wasActive
}

func (t *fakeTimer) fire(at time.Time) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()

		return
	}

	t.active = false
	t.mu.Unlock()

	select {
	case t.ch <- at:
	default:
	}
}

func TestSagaAllStepsSucceed(t *testing.T) {
	clock := newFakeClock()

	steps := []Step{
		Plain("reserve", func(context.Context) (any, error) { return "reserved", nil }),
		Plain("charge", func(context.Context) (any, error) { return "charged", nil }),
	}

	s := New(clock, steps)

	result, err := s.Execute(context.Background())
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}

	if result.Result != "charged" || len(result.ExecutedSteps) != 2 {
		t.Fatalf("result = %+v, want final step's result and 2 executed steps", result)
	}
}

// TestSagaCompensatesInReverseOrder is scenario S6: three successful steps
// followed by a failing fourth; compensation runs S3, S2, S1.
func TestSagaCompensatesInReverseOrder(t *testing.T) {
	clock := newFakeClock()

	var order []string

	var mu sync.Mutex

	compFor := func(name string) func(context.Context, any) error {
		return func(context.Context, any) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()

			return nil
		}
	}

	boom := errors.New("s4 failed")

	steps := []Step{
		WithCompensation(Plain("s1", func(context.Context) (any, error) { return "r1", nil }), compFor("s1")),
		WithCompensation(Plain("s2", func(context.Context) (any, error) { return "r2", nil }), compFor("s2")),
		WithCompensation(Plain("s3", func(context.Context) (any, error) { return "r3", nil }), compFor("s3")),
		Plain("s4", func(context.Context) (any, error) { return nil, boom }),
	}

	s := New(clock, steps)

	_, err := s.Execute(context.Background())

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}

	if len(failure.CompensatedSteps) != 3 {
		t.Fatalf("CompensatedSteps = %v, want 3 entries", failure.CompensatedSteps)
	}

	if len(failure.CompensationErrors) != 0 {
		t.Fatalf("CompensationErrors = %v, want none", failure.CompensationErrors)
	}

	want := []string{"s3", "s2", "s1"}

	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	if !errors.Is(failure.Err, boom) {
		t.Fatalf("Failure.Err = %v, want wrapping boom", failure.Err)
	}
}

func TestSagaSkipsStepsWithoutCompensation(t *testing.T) {
	clock := newFakeClock()

	compensated := false

	steps := []Step{
		Plain("no-comp", func(context.Context) (any, error) { return 1, nil }),
		WithCompensation(
			Plain("has-comp", func(context.Context) (any, error) { return 2, nil }),
			func(context.Context, any) error { compensated = true; return nil },
		),
		Plain("fails", func(context.Context) (any, error) { return nil, errors.New("boom") }),
	}

	s := New(clock, steps)

	_, err := s.Execute(context.Background())

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}

	if !compensated {
		t.Fatal("expected has-comp's compensation to run")
	}

	if len(failure.CompensatedSteps) != 1 {
		t.Fatalf("CompensatedSteps = %v, want exactly one (no-comp has none to run)", failure.CompensatedSteps)
	}
}

func TestSagaContinuesCompensatingOnFailureByDefault(t *testing.T) {
	clock := newFakeClock()

	compBoom := errors.New("comp failed")

	var ranSecond bool

	steps := []Step{
		WithCompensation(
			Plain("s1", func(context.Context) (any, error) { return 1, nil }),
			func(context.Context, any) error { ranSecond = true; return nil },
		),
		WithCompensation(
			Plain("s2", func(context.Context) (any, error) { return 2, nil }),
			func(context.Context, any) error { return compBoom },
		),
		Plain("s3", func(context.Context) (any, error) { return nil, errors.New("boom") }),
	}

	s := New(clock, steps)

	_, err := s.Execute(context.Background())

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}

	if !ranSecond {
		t.Fatal("s1's compensation should still run after s2's compensation failed")
	}

	if len(failure.CompensationErrors) != 1 {
		t.Fatalf("CompensationErrors = %v, want exactly one", failure.CompensationErrors)
	}
}

func TestSagaStopsCompensatingWhenConfigured(t *testing.T) {
	clock := newFakeClock()

	compBoom := errors.New("comp failed")

	var ranEarlier bool

	steps := []Step{
		WithCompensation(
			Plain("s1", func(context.Context) (any, error) { return 1, nil }),
			func(context.Context, any) error { ranEarlier = true; return nil },
		),
		WithCompensation(
			Plain("s2", func(context.Context) (any, error) { return 2, nil }),
			func(context.Context, any) error { return compBoom },
		),
		Plain("s3", func(context.Context) (any, error) { return nil, errors.New("boom") }),
	}

	s := New(clock, steps, ContinueOnCompensationFailure(false))

	_, err := s.Execute(context.Background())

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}

	if ranEarlier {
		t.Fatal("s1's compensation should not run once compensation stopped at s2")
	}
}

// TestSagaCompensationTimeoutMarksAbandoned covers a single compensation
// that outlives the aggregate deadline: it is reported as Abandoned, not
// Failed.
func TestSagaCompensationTimeoutMarksAbandoned(t *testing.T) {
	clock := newFakeClock()

	blocked := make(chan struct{})

	steps := []Step{
		WithCompensation(
			Plain("slow", func(context.Context) (any, error) { return 1, nil }),
			func(ctx context.Context, _ any) error {
				close(blocked)
				<-ctx.Done()

				return ctx.Err()
			},
		),
		Plain("fails", func(context.Context) (any, error) { return nil, errors.New("boom") }),
	}

	s := New(clock, steps, CompensationTimeout(10*time.Millisecond))

	done := make(chan error, 1)

	go func() {
		_, err := s.Execute(context.Background())
		done <- err
	}()

	<-blocked
	clock.Advance(10 * time.Millisecond)

	err := <-done

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}

	if len(failure.CompensationErrors) != 1 || failure.CompensationErrors[0].Kind != CompensationAbandoned {
		t.Fatalf("CompensationErrors = %+v, want one Abandoned entry", failure.CompensationErrors)
	}
}

// TestSagaCompensationTimeoutIsAggregate covers the phase as a whole
// exceeding the deadline even though s2's own compensation is well within
// what would be a reasonable per-step budget: s2 consumes 6ms of the 10ms
// total, leaving s1 only 4ms, and s1 needs more than that. s1 is abandoned
// even though nothing about s1 individually looks slow.
func TestSagaCompensationTimeoutIsAggregate(t *testing.T) {
	clock := newFakeClock()

	s2Started := make(chan struct{})
	s2Proceed := make(chan struct{})
	s1Started := make(chan struct{})
	s1Proceed := make(chan struct{})

	steps := []Step{
		WithCompensation(
			Plain("s1", func(context.Context) (any, error) { return 1, nil }),
			func(context.Context, any) error {
				close(s1Started)
				<-s1Proceed

				return nil
			},
		),
		WithCompensation(
			Plain("s2", func(context.Context) (any, error) { return 2, nil }),
			func(context.Context, any) error {
				close(s2Started)
				<-s2Proceed

				return nil
			},
		),
		Plain("s3", func(context.Context) (any, error) { return nil, errors.New("boom") }),
	}

	s := New(clock, steps, CompensationTimeout(10*time.Millisecond))

	done := make(chan error, 1)

	go func() {
		_, err := s.Execute(context.Background())
		done <- err
	}()

	<-s2Started
	clock.Advance(6 * time.Millisecond)
	close(s2Proceed)

	<-s1Started
	clock.Advance(6 * time.Millisecond)
	close(s1Proceed)

	err := <-done

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *Failure", err)
	}

	if len(failure.CompensatedSteps) != 1 || failure.CompensatedSteps[0] != "s2" {
		t.Fatalf("CompensatedSteps = %v, want only s2", failure.CompensatedSteps)
	}

	if len(failure.CompensationErrors) != 1 || failure.CompensationErrors[0].Kind != CompensationAbandoned {
		t.Fatalf("CompensationErrors = %+v, want one Abandoned entry for s1", failure.CompensationErrors)
	}

	if failure.CompensationErrors[0].Step != "s1" {
		t.Fatalf("CompensationErrors[0].Step = %q, want s1", failure.CompensationErrors[0].Step)
	}
}

func TestRunParallelAggregatesStatistics(t *testing.T) {
	clock := newFakeClock()

	ok := New(clock, []Step{Plain("ok", func(context.Context) (any, error) { return 1, nil })})
	bad := New(clock, []Step{Plain("bad", func(context.Context) (any, error) { return nil, errors.New("boom") })})

	results, stats := RunParallel(context.Background(), clock, []*Saga{ok, bad})

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	if stats.SuccessCount != 1 || stats.FailureCount != 1 {
		t.Fatalf("stats = %+v, want 1 success and 1 failure", stats)
	}

	if stats.SuccessRate != 0.5 {
		t.Fatalf("SuccessRate = %v, want 0.5", stats.SuccessRate)
	}
}
