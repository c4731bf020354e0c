package saga

import (
	"context"
	"sync"
	"time"

	resilience "github.com/resilience-go/core"
)

// ParallelResult pairs one saga's outcome with its position in the input
// slice given to [RunParallel].
type ParallelResult struct {
	Success Success
	Err     error
}

// ParallelStatistics summarizes a [RunParallel] run.
type ParallelStatistics struct {
	SuccessCount  int
	FailureCount  int
	SuccessRate   float64
	TotalDuration time.Duration
}

// RunParallel executes every saga in sagas concurrently and independently,
// returning per-saga results aligned positionally with sagas plus aggregate
// statistics (§4.10 "Parallel coordinator").
func RunParallel(ctx context.Context, clock resilience.Clock, sagas []*Saga) ([]ParallelResult, ParallelStatistics) {
	start := clock.Now()
	results := make([]ParallelResult, len(sagas))

	var wg sync.WaitGroup

	for i, s := range sagas {
		wg.Add(1)

		go func(i int, s *Saga) {
			defer wg.Done()

			succ, err := s.Execute(ctx)
			results[i] = ParallelResult{Success: succ, Err: err}
		}(i, s)
	}

	wg.Wait()

	successCount := 0

	for _, r := range results {
		if r.Err == nil {
			successCount++
		}
	}

	stats := ParallelStatistics{
		SuccessCount:  successCount,
		FailureCount:  len(results) - successCount,
		TotalDuration: clock.Since(start),
	}

	if len(results) > 0 {
		stats.SuccessRate = float64(successCount) / float64(len(results))
	}

	return results, stats
}
