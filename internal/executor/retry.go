package executor

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/config"
	"github.com/ducminhle1904/futures-exec-agent/internal/exchange"
)

// RetryPolicy bounds retries of transient gateway failures
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// PolicyFromConfig builds a retry policy from execution settings
func PolicyFromConfig(cfg config.ExecutionConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.RetryMaxAttempts,
		InitialDelay:  cfg.RetryInitialDelay(),
		MaxDelay:      cfg.RetryMaxDelay(),
		BackoffFactor: cfg.RetryBackoffFactor,
		Jitter:        true,
	}
}

// retryCall executes fn, retrying transient failures with exponential backoff.
// Fatal failures and context cancellation return immediately. The last error
// is returned once attempts are exhausted.
func retryCall(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !exchange.IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := backoffDelay(attempt, policy)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(attempt int, policy RetryPolicy) time.Duration {
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := policy.BackoffFactor
	if factor <= 1 {
		factor = 2.0
	}
	if attempt > 0 {
		delay = time.Duration(float64(delay) * math.Pow(factor, float64(attempt)))
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}
