package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// ============================================================================
// RETRY
// ============================================================================

// RetryConfig controls exponential backoff for transient venue failures
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized, 0..1
}

// DefaultRetryConfig returns the production retry policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.3,
	}
}

// WithRetry runs fn with exponential backoff and jitter. A RateLimitError
// from fn waits the venue's advertised delay instead of the backoff curve.
// Permanent errors (malformed data, context cancellation) abort immediately;
// exhausting all attempts wraps the last error in ErrExchangeUnavailable.
func WithRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if rl, ok := AsRateLimit(err); ok && rl.RetryAfter > 0 {
			delay = rl.RetryAfter
		}

		log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Transient exchange error, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v",
		ErrExchangeUnavailable, op, cfg.MaxAttempts, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		// #nosec G404 -- jitter does not need cryptographic randomness
		spread := rand.Float64()*2 - 1
		delay += time.Duration(float64(delay) * cfg.Jitter * spread)
	}
	if delay < 0 {
		delay = cfg.BaseDelay
	}
	return delay
}

// isRetryable classifies errors worth another attempt. Validation failures
// and cancellations are permanent.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformedCandles) {
		return false
	}
	if _, ok := AsRateLimit(err); ok {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// venue 5xx and connection resets arrive as opaque errors from the SDK
	return true
}
