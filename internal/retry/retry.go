// Package retry provides exponential backoff retry mechanisms for handling
// transient failures: embedding provider calls, external MCP client
// reconnects, and dispatch router HTTP retries all share this helper.
//
// # Basic Usage
//
//	cfg := retry.Config{
//	    MaxRetries:     5,
//	    InitialBackoff: 100 * time.Millisecond,
//	    MaxBackoff:     5 * time.Second,
//	    Jitter:         0.1,
//	}
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return doSomething()
//	}, func(err error) bool {
//	    return isTransientError(err)
//	})
//
// The backoff duration follows an exponential pattern: InitialBackoff * 2^(attempt-1).
// All retry operations respect context cancellation.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior for exponential backoff operations.
//
// The zero value is not usable; MaxRetries and InitialBackoff must be set.
type Config struct {
	// MaxRetries is the maximum number of calls to fn, the first one included.
	MaxRetries int

	// InitialBackoff is the base backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds randomness to backoff to prevent thundering herd (0.0 to 1.0).
	Jitter float64
}

// ShouldRetryFunc determines if an error should trigger a retry.
//
// If nil is passed to Do, all errors will be retried.
type ShouldRetryFunc func(error) bool

// Do executes fn with exponential backoff retry.
//
// fn is called up to cfg.MaxRetries times. If shouldRetry is nil, all errors
// are retryable. If the context is canceled during execution or backoff, Do
// returns the context error immediately.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(cfg, attempt)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// NextBackoff exposes the backoff a caller would wait before attempt N, for
// callers (such as the external MCP client) that need to drive their own
// reconnect loop instead of calling Do directly.
func NextBackoff(cfg Config, attempt int) time.Duration {
	return calculateBackoff(cfg, attempt)
}

// calculateBackoff computes the backoff duration for a given attempt:
//  1. exponential backoff: InitialBackoff * 2^(attempt-1)
//  2. capped at MaxBackoff if configured
//  3. jitter added, growing linearly with attempt number
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
