package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      0,
	}
}

func TestWithRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(), "test_op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhaustionWrapsUnavailable(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(), "test_op", func() error {
		attempts++
		return errors.New("still down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExchangeUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryMalformedCandlesNotRetried(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastRetryConfig(), "test_op", func() error {
		attempts++
		return ErrMalformedCandles
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedCandles)
	assert.NotErrorIs(t, err, ErrExchangeUnavailable)
	assert.Equal(t, 1, attempts, "validation failures must not be retried")
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := WithRetry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, "test_op", func() error {
		attempts++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "cancelled context should stop before the backoff sleep")
}

func TestWithRetryHonorsRetryAfter(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := WithRetry(context.Background(), fastRetryConfig(), "test_op", func() error {
		attempts++
		if attempts == 1 {
			return &RateLimitError{RetryAfter: 30 * time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond,
		"retry should wait the venue's advertised delay")
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Jitter: 0}

	assert.Equal(t, 10*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 35*time.Millisecond, backoffDelay(cfg, 3), "delay should cap at MaxDelay")
	assert.Equal(t, 35*time.Millisecond, backoffDelay(cfg, 4))
}
