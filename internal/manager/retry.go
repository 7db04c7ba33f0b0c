package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds retryWithBackoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy tries three times, waiting 1s then 2s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// backoffDelay returns the delay after failed attempt n (0-based): initial
// doubled n times, capped at maxDelay.
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// retryWithBackoff runs op until it succeeds, returns a non-retryable error,
// or MaxAttempts is reached. The last error is returned. onRetry, if set, is
// called before each wait.
func retryWithBackoff(
	ctx context.Context,
	p RetryPolicy,
	op func(attempt int) error,
	retryable func(error) bool,
	onRetry func(attempt int, delay time.Duration, err error),
) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = op(attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts-1 || !retryable(err) {
			return err
		}

		delay := backoffDelay(attempt, p.InitialDelay, p.MaxDelay)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		slog.Info("[BT] retry backoff", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
