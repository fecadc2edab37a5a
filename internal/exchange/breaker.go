package exchange

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// Circuit breaker thresholds for venue calls
const (
	breakerMinRequests     uint32  = 10
	breakerFailureRatio    float64 = 0.6
	breakerOpenTimeout             = 60 * time.Second
	breakerHalfOpenMaxReqs uint32  = 3
	breakerCountInterval           = 60 * time.Second
)

// newExchangeBreaker creates the circuit breaker guarding all venue calls.
// It trips when 60% of at least 10 requests in a one-minute window fail,
// stays open for a minute, then probes with up to 3 half-open requests.
func newExchangeBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenMaxReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
		},
	})
}
