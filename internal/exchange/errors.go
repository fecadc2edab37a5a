package exchange

import (
	"errors"
	"fmt"
	"time"
)

// Typed error boundary for the exchange client. Everything above this
// package matches on these sentinels, never on venue error strings.
var (
	// ErrExchangeUnavailable is returned after retries are exhausted on
	// transient failures (timeouts, 5xx, connection errors).
	ErrExchangeUnavailable = errors.New("exchange unavailable")

	// ErrMalformedCandles is returned when a fetched series fails
	// ingestion validation (gaps, NaN, non-monotonic timestamps).
	ErrMalformedCandles = errors.New("malformed candles")
)

// RateLimitError carries the venue's advertised retry delay from a 429
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by venue, retry after %s", e.RetryAfter)
}

// AsRateLimit extracts a RateLimitError from an error chain
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
