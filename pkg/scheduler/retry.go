package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/ratelimit"
)

// RetryPolicy controls how a dispatch reacts to rate-limit responses.
// Other errors are never retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial request.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// Multiplier is applied to the delay after every retry.
	Multiplier float64

	// Jitter is the relative randomization of each delay (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryPolicy returns the default retry policy: 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0,
	}
}

// Backoff returns the delay before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	backoff := float64(p.InitialBackoff)
	for i := 1; i < retry; i++ {
		backoff *= p.Multiplier
		if p.MaxBackoff > 0 && backoff >= float64(p.MaxBackoff) {
			backoff = float64(p.MaxBackoff)
			break
		}
	}

	if p.Jitter > 0 {
		backoff *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	return time.Duration(backoff)
}

// fetchWithRetry performs one dispatch of t: spacing is honored before every
// attempt and rate-limit responses are retried with exponential backoff. The
// first attempt returns ratelimit.ErrCoolingDown if the governor entered
// cooldown while t waited for its slot; retries ignore the cooldown.
func (s *Scheduler) fetchWithRetry(ctx context.Context, t *Task) (*catalog.Result, error) {
	policy := s.config.Retry

	lane := ratelimit.LaneBackground
	if t.priority == PriorityHigh {
		lane = ratelimit.LanePriority
	}

	for attempt := 0; ; attempt++ {
		acquire := s.governor.AcquireRetry
		if attempt == 0 {
			acquire = s.governor.Acquire
		}
		if err := acquire(ctx, lane); err != nil {
			return nil, err
		}

		result, err := s.fetch(ctx, t.Query)
		if err == nil {
			if attempt > 0 {
				s.logger.Info().
					Str("fingerprint", t.Fingerprint).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return result, nil
		}

		if !catalog.IsRateLimited(err) {
			return nil, err
		}
		s.governor.RecordRateLimit()

		if attempt >= policy.MaxRetries {
			retryExhaustedTotal.WithLabelValues(s.config.Name).Inc()
			s.logger.Warn().
				Str("fingerprint", t.Fingerprint).
				Int("max_retries", policy.MaxRetries).
				Msg("Retry attempts exhausted")
			return nil, fmt.Errorf("%w after %d retries: %v", ErrRetryExhausted, policy.MaxRetries, err)
		}

		backoff := policy.Backoff(attempt + 1)
		retriesTotal.WithLabelValues(s.config.Name).Inc()
		retryBackoffSeconds.WithLabelValues(s.config.Name).Observe(backoff.Seconds())

		s.logger.Debug().
			Str("fingerprint", t.Fingerprint).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Rate limited - retrying after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
