package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	lastErr := errors.New("attempt 3 failed")
	err := withRetry(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return errBoom
	})

	require.ErrorIs(t, err, lastErr)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := withRetry(ctx, fastRetry(10), func(ctx context.Context) error {
		calls++
		cancel()
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, fastRetry(3), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestRetryConfigSanitized(t *testing.T) {
	cfg := RetryConfig{}.sanitized()

	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, cfg.InitialBackoff, cfg.MaxBackoff)

	cfg = RetryConfig{MaxAttempts: 4, InitialBackoff: time.Second, MaxBackoff: time.Millisecond}.sanitized()
	assert.Equal(t, time.Second, cfg.MaxBackoff)
}
