package resilience

import (
	"sync"
	"time"
)

// virtualClock is a controllable [Clock] used throughout this package's
// tests so that backoff, TTL, and deadline behavior can be verified without
// relying on real wall-clock sleeps (§4.1 "tests may substitute a fake
// implementation to control the passage of time").
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Unix(0, 0)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *virtualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *virtualClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &virtualTimer{fireAt: c.now.Add(d), ch: make(chan time.Time, 1), active: true}
	c.timers = append(c.timers, t)

	if d <= 0 {
		t.fire(c.now)
	}

	return t
}

// waitForTimers blocks until at least n timers have been created on c, so a
// test advances the clock only after the code under test has armed its
// deadline.
func (c *virtualClock) waitForTimers(n int) {
	for {
		c.mu.Lock()
		got := len(c.timers)
		c.mu.Unlock()

		if got >= n {
			return
		}

		time.Sleep(time.Millisecond)
	}
}

// Advance moves the virtual clock forward by d and fires every pending
// timer whose deadline has passed, in the order the timers were created.
func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	pending := make([]*virtualTimer, len(c.timers))
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

type virtualTimer struct {
	mu     sync.Mutex
	ch     chan time.Time
	fireAt time.Time
	active bool
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }

func (t *virtualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := t.active
	t.active = false

	return wasActive
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := t.active
	t.active = true
	t.fireAt = t.fireAt.Add(d)

	return wasActive
}

func (t *virtualTimer) fire(at time.Time) {
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
