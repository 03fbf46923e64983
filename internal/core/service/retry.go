package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rl1809/keydrop/internal/core/domain"
)

// RetryPolicy bounds how often the atomic allocation step is re-run after a
// write conflict.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// delay returns the upper bound of the wait before the given retry (1-based).
func (p RetryPolicy) delay(retry int) time.Duration {
	d := p.Backoff
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// wait spreads the delay over [delay/2, delay] so buyers that conflicted on
// the same item do not retry in lockstep.
func (p RetryPolicy) wait(retry int) time.Duration {
	d := p.delay(retry)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

// withRetry runs fn until it succeeds, fails with a non-retriable error, or
// the attempts run out. Only TRANSIENT_CONFLICT is retried. onRetry may be
// nil.
func withRetry[T any](ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.wait(attempt - 1)):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !domain.Retriable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
