// Package retry wraps gateway calls in a bounded exponential backoff that only
// retries transient failures.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"voicerelay/core"
)

// Config controls the retry policy around a single gateway call.
type Config struct {
	MaxRetries      int           `json:"max_retries"`      // Retries after the first attempt. 0 disables retrying.
	InitialInterval core.Duration `json:"initial_interval"` // Delay before the first retry, e.g. "500ms".
	MaxInterval     core.Duration `json:"max_interval"`     // Upper bound on a single delay.
	Multiplier      float64       `json:"multiplier"`       // Growth factor between delays.
}

// DefaultConfig returns the policy used when nothing is configured: two
// retries starting at 500ms.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      2,
		InitialInterval: core.Duration(500 * time.Millisecond),
		MaxInterval:     core.Duration(4 * time.Second),
		Multiplier:      2,
	}
}

// Notify is invoked before each retry with the failed attempt's error.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, returns a non-retryable error, or the retry
// budget is spent. Retryability is decided by core.IsRetryable. The error of
// the last attempt is returned unchanged.
func Do[T any](ctx context.Context, cfg Config, notify Notify, op func(ctx context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval.Duration()
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval.Duration()
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}

	maxTries := uint(1)
	if cfg.MaxRetries > 0 {
		maxTries += uint(cfg.MaxRetries)
	}

	attempt := 0
	var lastErr error
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !core.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}))
	}

	res, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return res, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return res, permanent.Unwrap()
	}
	// Retry reports the context cause when the parent context ends between
	// attempts; callers want the gateway error that led there.
	if lastErr != nil && ctx.Err() != nil {
		return res, lastErr
	}
	return res, err
}
