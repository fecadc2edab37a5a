package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

// scanEvery is the cadence per timeframe. Slower timeframes are rescanned
// more often than one bar so late venue data still gets picked up.
var scanEvery = map[exchange.Interval]time.Duration{
	exchange.Interval15m: 15 * time.Minute,
	exchange.Interval1h:  time.Hour,
	exchange.Interval4h:  2 * time.Hour,
	exchange.Interval1d:  6 * time.Hour,
}

// expireAfterBars is how many bars an ACTIVE signal may age before the
// scheduler expires it unfilled.
const expireAfterBars = 12

// SignalExpirer expires stale ACTIVE signals
type SignalExpirer interface {
	ExpireSignalsBefore(ctx context.Context, timeframe string, cutoff time.Time) (int64, error)
}

// Scheduler drives scan cycles on fixed tickers, one per timeframe. A
// cycle still running when its ticker fires again is skipped, not queued.
type Scheduler struct {
	scanner *Scanner
	expirer SignalExpirer

	running map[exchange.Interval]*atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler over a scanner and a signal expirer
func NewScheduler(scanner *Scanner, expirer SignalExpirer) *Scheduler {
	running := make(map[exchange.Interval]*atomic.Bool, len(scanEvery))
	for interval := range scanEvery {
		running[interval] = &atomic.Bool{}
	}
	return &Scheduler{scanner: scanner, expirer: expirer, running: running}
}

// Start launches one scan loop per timeframe and returns immediately
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for interval, every := range scanEvery {
		s.wg.Add(1)
		go s.loop(ctx, interval, every)
	}

	log.Info().Int("timeframes", len(scanEvery)).Msg("Scan scheduler started")
}

// Stop cancels all loops and waits for in-flight cycles to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("Scan scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval exchange.Interval, every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	// first cycle runs immediately rather than one period from now
	s.runCycle(ctx, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx, interval)
		}
	}
}

// runCycle executes one scan plus expiry sweep, dropping the cycle if the
// previous one for this timeframe is still in flight.
func (s *Scheduler) runCycle(ctx context.Context, interval exchange.Interval) {
	flag := s.running[interval]
	if !flag.CompareAndSwap(false, true) {
		log.Warn().
			Str("timeframe", string(interval)).
			Msg("Previous scan still running, skipping cycle")
		return
	}
	defer flag.Store(false)

	if _, err := s.scanner.Scan(ctx, interval); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().
			Err(err).
			Str("timeframe", string(interval)).
			Msg("Scan cycle failed")
	}

	s.expireStale(ctx, interval)
}

func (s *Scheduler) expireStale(ctx context.Context, interval exchange.Interval) {
	if s.expirer == nil {
		return
	}

	cutoff := time.Now().UTC().Add(-expireAfterBars * interval.Duration())
	expired, err := s.expirer.ExpireSignalsBefore(ctx, string(interval), cutoff)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().
				Err(err).
				Str("timeframe", string(interval)).
				Msg("Failed to expire stale signals")
		}
		return
	}
	if expired > 0 {
		log.Info().
			Str("timeframe", string(interval)).
			Int64("expired", expired).
			Msg("Expired stale signals")
	}
}
