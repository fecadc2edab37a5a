package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ============================================================================
// RATE LIMITER
// ============================================================================

// RateLimiterConfig bounds outbound request pressure against the venue.
// Defaults stay well inside Binance's 1200 weight/min envelope so that a
// second process (or the venue's own bursts) never push us over.
type RateLimiterConfig struct {
	MinSpacing      time.Duration // minimum gap between consecutive requests
	MaxPerSecond    int           // hard per-second request cap
	MaxPerMinute    int           // rolling one-minute request cap
	MaxWeightPerMin int           // rolling one-minute weight cap
}

// DefaultRateLimiterConfig returns the production limits
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MinSpacing:      100 * time.Millisecond,
		MaxPerSecond:    10,
		MaxPerMinute:    800,
		MaxWeightPerMin: 1000,
	}
}

type weightEntry struct {
	at     time.Time
	weight int
}

// RateLimiter enforces four simultaneous constraints on outbound requests:
// minimum spacing, a per-second cap, a rolling per-minute request cap and a
// rolling per-minute weight cap. After a venue 429 the per-minute budget is
// halved until the next successful request.
type RateLimiter struct {
	cfg       RateLimiterConfig
	perSecond *rate.Limiter

	mu        sync.Mutex
	last      time.Time
	requests  []time.Time
	weights   []weightEntry
	throttled bool // true between a 429 and the next success

	now func() time.Time
}

// NewRateLimiter creates a limiter with the given caps
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxPerSecond <= 0 {
		cfg = DefaultRateLimiterConfig()
	}
	return &RateLimiter{
		cfg:       cfg,
		perSecond: rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1),
		now:       time.Now,
	}
}

// Acquire blocks until a request of the given weight may be sent, or until
// the context is cancelled. The request is recorded against the rolling
// windows before Acquire returns.
func (r *RateLimiter) Acquire(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}

	if err := r.perSecond.Wait(ctx); err != nil {
		return err
	}

	for {
		wait := r.reserve(weight)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve either records the request and returns 0, or returns how long the
// caller must wait before trying again.
func (r *RateLimiter) reserve(weight int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	if !r.last.IsZero() {
		if gap := r.cfg.MinSpacing - now.Sub(r.last); gap > 0 {
			return gap
		}
	}

	perMinute := r.effectivePerMinute()
	if len(r.requests) >= perMinute {
		return r.requests[0].Add(time.Minute).Sub(now)
	}

	used := 0
	for _, w := range r.weights {
		used += w.weight
	}
	if used+weight > r.cfg.MaxWeightPerMin {
		if len(r.weights) == 0 {
			// single request heavier than the whole budget; admit it alone
			if used > 0 {
				return r.cfg.MinSpacing
			}
		} else {
			return r.weights[0].at.Add(time.Minute).Sub(now)
		}
	}

	r.last = now
	r.requests = append(r.requests, now)
	r.weights = append(r.weights, weightEntry{at: now, weight: weight})
	return 0
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for len(r.requests) > 0 && !r.requests[0].After(cutoff) {
		r.requests = r.requests[1:]
	}
	for len(r.weights) > 0 && !r.weights[0].at.After(cutoff) {
		r.weights = r.weights[1:]
	}
}

func (r *RateLimiter) effectivePerMinute() int {
	if r.throttled {
		return r.cfg.MaxPerMinute / 2
	}
	return r.cfg.MaxPerMinute
}

// OnRateLimited halves the per-minute budget for the current window.
// Called when the venue returns 429.
func (r *RateLimiter) OnRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.throttled {
		r.throttled = true
		log.Warn().
			Int("reduced_per_minute", r.cfg.MaxPerMinute/2).
			Msg("Venue rate limit hit, halving per-minute budget")
	}
}

// OnSuccess restores the full per-minute budget after a throttled window
func (r *RateLimiter) OnSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.throttled {
		r.throttled = false
		log.Info().
			Int("per_minute", r.cfg.MaxPerMinute).
			Msg("Venue responding normally, per-minute budget restored")
	}
}

// Usage reports current rolling-window consumption for monitoring
func (r *RateLimiter) Usage() (requests, weight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	for _, w := range r.weights {
		weight += w.weight
	}
	return len(r.requests), weight
}
