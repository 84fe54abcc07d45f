// Package internal generalises the teacher's runtime/a2a/retry helper for
// use by both the Docker and Kubernetes container backends (image pull
// retries, health-check polling), without either backend importing the
// a2a-specific package.
package internal

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures Do's backoff behavior.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
}

// DefaultRetryConfig mirrors the teacher's a2a retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        15 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Do retries fn until it succeeds, cfg.MaxAttempts is exhausted, or ctx is
// done.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= cfg.MaxAttempts {
			break
		}
		backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
		if backoff > float64(cfg.MaxBackoff) {
			backoff = float64(cfg.MaxBackoff)
		}
		if cfg.Jitter > 0 {
			backoff += backoff * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(backoff)):
		}
	}
	return lastErr
}
