// Package upstream builds the SDK clients the providers call, with retry on
// transient upstream failures.
package upstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds how often the initial call of a turn is retried. Once
// a stream is open nothing is retried.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  30 * time.Second,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		exp.InitialInterval = c.InitialInterval
	}
	if c.MaxElapsedTime > 0 {
		exp.MaxElapsedTime = c.MaxElapsedTime
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.MaxRetries), ctx)
}

// retry runs op until it succeeds, fails with an error retryable rejects,
// or the policy gives up.
func retry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, retryable func(error) bool, op func() (T, error)) (T, error) {
	var out T
	err := backoff.RetryNotify(func() error {
		v, err := op()
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, cfg.backOff(ctx), func(err error, d time.Duration) {
		logger.Warn("Upstream call failed, retrying", "error", err, "delay", d)
	})
	return out, err
}
