package preload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FanOutConfig holds worker pool configuration.
type FanOutConfig struct {
	// MaxConcurrency is the maximum number of parallel calls.
	MaxConcurrency int

	// Timeout per call.
	Timeout time.Duration
}

// DefaultFanOutConfig returns the default worker pool configuration.
func DefaultFanOutConfig() FanOutConfig {
	return FanOutConfig{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
	}
}

// Outcome is the result of one fan-out call.
type Outcome[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// FanOut calls fn for every item through a bounded worker pool and waits for
// all of them. Failures are reported per item; the remaining items still
// run. Outcomes are returned in input order. Items not started before ctx is
// done carry ctx's error.
func FanOut[T, R any](ctx context.Context, cfg FanOutConfig, logger zerolog.Logger, items []T, fn func(context.Context, T) (R, error)) []Outcome[T, R] {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	outcomes := make([]Outcome[T, R], len(items))
	if len(items) == 0 {
		return outcomes
	}

	workers := cfg.MaxConcurrency
	if workers > len(items) {
		workers = len(items)
	}

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0

			for i := range queue {
				outcomes[i].Item = items[i]

				if err := ctx.Err(); err != nil {
					outcomes[i].Err = err
					continue
				}

				callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
				outcomes[i].Value, outcomes[i].Err = fn(callCtx, items[i])
				cancel()
				processed++
			}

			if processed > 0 {
				logger.Debug().
					Int("worker_id", workerID).
					Int("processed", processed).
					Msg("Worker completed")
			}
		}(w)
	}
	wg.Wait()

	return outcomes
}
