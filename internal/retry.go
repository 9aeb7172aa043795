package internal

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryPolicy is exponential backoff for sink and ledger calls.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// Retryable decides whether an error is worth another attempt. Nil means
	// IsRetryable.
	Retryable func(error) bool

	OnRetry func(attempt int, err error, delay time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// NoRetry runs the call exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// run out or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return errors.WithSecondaryError(ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return errors.WithSecondaryError(ctx.Err(), lastErr)
		}
	}

	return errors.Wrapf(lastErr, "giving up after %d attempts", p.MaxRetries+1)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
