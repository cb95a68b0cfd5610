package service

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig bounds the exponential backoff applied to transient object
// store and transport operations.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default bounded backoff parameters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (c RetryConfig) sanitized() RetryConfig {
	out := c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = 500 * time.Millisecond
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	return out
}

// withRetry runs op up to MaxAttempts times with exponential backoff and
// jitter between attempts. The last error is returned when all attempts fail.
// Context cancellation stops retrying immediately.
func withRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	cfg = cfg.sanitized()

	var lastErr error
	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		// Full jitter keeps concurrent retries from synchronizing.
		sleep := time.Duration(rand.Int63n(int64(backoff)) + 1)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}
