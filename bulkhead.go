package resilience

import (
	"context"
	"sync"
	"time"
)

// Pattern: Bulkhead — isolates a resource behind a bounded concurrency
// permit pool plus a bounded, strictly FIFO wait queue (§4.5). Admission,
// queuing, and permit release are all performed under a single mutex; the
// wrapped operation always runs outside it.

// BulkheadRejectionReason classifies why a call never got to run.
type BulkheadRejectionReason int

const (
	// BulkheadRejectedFull means the wait queue itself was already full.
	BulkheadRejectedFull BulkheadRejectionReason = iota
	// BulkheadRejectedTimeout means the caller waited longer than
	// maxWaitDuration for a permit.
	BulkheadRejectedTimeout
)

func (r BulkheadRejectionReason) String() string {
	switch r {
	case BulkheadRejectedFull:
		return "queue_full"
	case BulkheadRejectedTimeout:
		return "wait_timeout"
	default:
		return "unknown"
	}
}

// BulkheadRejected is emitted whenever a call is turned away without
// running, either immediately (queue full) or after waiting (timeout).
type BulkheadRejected struct {
	Reason BulkheadRejectionReason
}

// BulkheadStatistics is a point-in-time snapshot of a bulkhead's counters.
type BulkheadStatistics struct {
	TotalCalls        int
	SuccessfulCalls   int
	FailedCalls       int
	RejectedCalls     int
	ActiveCalls       int
	WaitingCalls      int
	AvailableCapacity int
	UtilizationRate   float64
}

type (
	bulkheadConfig struct {
		maxConcurrentCalls int
		maxWaitingCalls    int
		maxWaitDuration    time.Duration
	}

	// BulkheadOption configures a [Bulkhead] at construction time.
	BulkheadOption func(*bulkheadConfig)

	bulkheadWaiter struct {
		ch      chan struct{}
		granted bool
	}

	// Bulkhead bounds concurrent access to a resource with a FIFO wait
	// queue on top of the concurrency limit (§4.5).
	Bulkhead struct {
		clock Clock
		bus   *EventBus[BulkheadRejected]
		cfg   bulkheadConfig

		mu           sync.Mutex
		activeCalls  int
		waitingCalls int
		queue        []*bulkheadWaiter

		totalCalls      int
		successfulCalls int
		failedCalls     int
		rejectedCalls   int
	}
)

func defaultBulkheadConfig() bulkheadConfig {
	return bulkheadConfig{
		maxConcurrentCalls: 10,
		maxWaitingCalls:    10,
	}
}

// MaxConcurrentCalls sets the number of calls allowed to run at once.
func MaxConcurrentCalls(n int) BulkheadOption {
	return func(cfg *bulkheadConfig) { cfg.maxConcurrentCalls = n }
}

// MaxWaitingCalls sets the size of the FIFO admission queue.
func MaxWaitingCalls(n int) BulkheadOption {
	return func(cfg *bulkheadConfig) { cfg.maxWaitingCalls = n }
}

// MaxWaitDuration bounds how long a queued caller waits for a permit before
// failing with [ErrBulkheadTimeout]. Zero (the default) means unbounded.
func MaxWaitDuration(d time.Duration) BulkheadOption {
	return func(cfg *bulkheadConfig) { cfg.maxWaitDuration = d }
}

// NewBulkhead creates a bulkhead with the given options. A nil bus is
// treated as "no listeners". Panics with [InvalidArgumentError] if the
// resolved config violates the ranges in §6.
func NewBulkhead(clock Clock, bus *EventBus[BulkheadRejected], opts ...BulkheadOption) *Bulkhead {
	cfg := defaultBulkheadConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if err := cfg.validate(); err != nil {
		panic(err)
	}

	return &Bulkhead{clock: clock, bus: bus, cfg: cfg}
}

func (cfg bulkheadConfig) validate() error {
	if cfg.maxConcurrentCalls <= 0 {
		return InvalidArgument("maxConcurrentCalls must be > 0")
	}

	if cfg.maxWaitingCalls < 0 {
		return InvalidArgument("maxWaitingCalls must be >= 0")
	}

	if cfg.maxWaitDuration < 0 {
		return InvalidArgument("maxWaitDuration must be > 0 or zero (unbounded)")
	}

	return nil
}

// Execute runs op once a permit is available, per the algorithm in §4.5:
// take a free permit at once if there is one; otherwise reject immediately
// if the wait queue is full, or else queue in FIFO order and wait
// (optionally bounded by maxWaitDuration), then run op and unconditionally
// release the permit on the way out.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()
	b.totalCalls++

	if b.activeCalls < b.cfg.maxConcurrentCalls {
		b.activeCalls++
		b.mu.Unlock()
	} else if b.waitingCalls >= b.cfg.maxWaitingCalls {
		b.rejectedCalls++
		b.mu.Unlock()
		b.emitRejected(BulkheadRejectedFull)

		return ErrBulkheadFull
	} else {
		w := &bulkheadWaiter{ch: make(chan struct{})}
		b.waitingCalls++
		b.queue = append(b.queue, w)
		b.mu.Unlock()

		if err := b.awaitPermit(ctx, w); err != nil {
			return err
		}
	}

	err := op(ctx)

	b.mu.Lock()
	b.activeCalls--

	if err != nil {
		b.failedCalls++
	} else {
		b.successfulCalls++
	}

	b.releaseNextLocked()
	b.mu.Unlock()

	return err
}

// awaitPermit blocks until w is granted a permit, the caller's context is
// cancelled, or maxWaitDuration elapses, whichever comes first.
func (b *Bulkhead) awaitPermit(ctx context.Context, w *bulkheadWaiter) error {
	var timeoutC <-chan time.Time

	if b.cfg.maxWaitDuration > 0 {
		timer := b.clock.NewTimer(b.cfg.maxWaitDuration)
		defer timer.Stop()

		timeoutC = timer.C()
	}

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		if !b.abandon(w) {
			return nil
		}

		b.countRejected()

		return cancelledErr(ctx)
	case <-timeoutC:
		if !b.abandon(w) {
			return nil
		}

		b.countRejected()
		b.emitRejected(BulkheadRejectedTimeout)

		return ErrBulkheadTimeout
	}
}

// abandon removes w from the wait queue if it has not already been granted
// a permit. It reports whether w was actually still waiting: false means a
// permit was already committed to w concurrently and the caller should
// proceed as if it had been granted.
func (b *Bulkhead) abandon(w *bulkheadWaiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w.granted {
		return false
	}

	for i, x := range b.queue {
		if x != w {
			continue
		}

		b.queue = append(b.queue[:i:i], b.queue[i+1:]...)
		b.waitingCalls--

		break
	}

	return true
}

func (b *Bulkhead) countRejected() {
	b.mu.Lock()
	b.rejectedCalls++
	b.mu.Unlock()
}

// releaseNextLocked must be called with b.mu held. It hands permits to
// queued waiters, in FIFO order, for as long as capacity and the queue both
// allow it.
func (b *Bulkhead) releaseNextLocked() {
	for len(b.queue) > 0 && b.activeCalls < b.cfg.maxConcurrentCalls {
		w := b.queue[0]
		b.queue = b.queue[1:]
		b.waitingCalls--
		b.activeCalls++
		w.granted = true
		close(w.ch)
	}
}

func (b *Bulkhead) emitRejected(reason BulkheadRejectionReason) {
	if b.bus != nil {
		b.bus.Emit(BulkheadRejected{Reason: reason})
	}
}

// Statistics returns a snapshot of the bulkhead's counters, including the
// derived availableCapacity and utilizationRate (§4.5).
func (b *Bulkhead) Statistics() BulkheadStatistics {
	b.mu.Lock()
	defer b.mu.Unlock()

	util := 0.0
	if b.cfg.maxConcurrentCalls > 0 {
		util = float64(b.activeCalls) / float64(b.cfg.maxConcurrentCalls)
	}

	return BulkheadStatistics{
		TotalCalls:        b.totalCalls,
		SuccessfulCalls:   b.successfulCalls,
		FailedCalls:       b.failedCalls,
		RejectedCalls:     b.rejectedCalls,
		ActiveCalls:       b.activeCalls,
		WaitingCalls:      b.waitingCalls,
		AvailableCapacity: b.cfg.maxConcurrentCalls - b.activeCalls,
		UtilizationRate:   util,
	}
}

// ResetStatistics zeroes the call counters without affecting active or
// waiting calls.
func (b *Bulkhead) ResetStatistics() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls = 0
	b.successfulCalls = 0
	b.failedCalls = 0
	b.rejectedCalls = 0
}
