package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultCollaboratorTimeout = 30 * time.Second
	defaultRetryDelay          = 500 * time.Millisecond
)

// retryPolicy bounds every call to an external collaborator: each attempt gets
// its own timeout and a failed attempt is retried once.
type retryPolicy struct {
	timeout time.Duration
	delay   time.Duration
}

func newRetryPolicy(cfg CollaboratorConfig) retryPolicy {
	p := retryPolicy{timeout: cfg.Timeout, delay: cfg.RetryDelay}
	if p.timeout <= 0 {
		p.timeout = defaultCollaboratorTimeout
	}
	if p.delay < 0 {
		p.delay = defaultRetryDelay
	}
	return p
}

// callWithRetry runs fn under the policy and records the outcome
func callWithRetry[T any](ctx context.Context, p retryPolicy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	start := time.Now()

	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		v, err := fn(attemptCtx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			slog.Warn("Collaborator call failed", "operation", operation, "attempt", attempt, "error", err)
			return err
		}
		result = v
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), 1), ctx)
	err := backoff.Retry(op, policy)

	collaboratorCalls.WithLabelValues(operation, outcomeLabel(err)).Inc()
	collaboratorLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	return result, err
}
