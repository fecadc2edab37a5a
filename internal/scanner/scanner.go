// Package scanner runs the signal pipeline: fetch candles for the symbol
// universe, evaluate the rule chain per symbol and timeframe, and persist
// qualifying signals through the dedup-and-upgrade rule.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/alerts"
	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/indicators"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/metrics"
	"github.com/tradepulse/tradepulse/internal/rules"
	"github.com/tradepulse/tradepulse/internal/ws"
)

// lookbackBars is the default candle count each scan requests. Comfortably
// past indicator warm-up so Ready snapshots survive venue-side gaps.
const lookbackBars = 3 * indicators.MinBars

// confirmOf maps each timeframe to the one whose snapshot confirms it.
// The top timeframe has no confirmation and skips the agreement gate.
var confirmOf = map[exchange.Interval]exchange.Interval{
	exchange.Interval15m: exchange.Interval1h,
	exchange.Interval1h:  exchange.Interval4h,
	exchange.Interval4h:  exchange.Interval1d,
}

// SignalStore is the subset of the database the scanner writes through
type SignalStore interface {
	UpsertSignal(ctx context.Context, sig *db.Signal, priority func(timeframe string) int) (string, error)
}

// TradeOpener opens a paper trade for a freshly inserted signal
type TradeOpener interface {
	OpenForSignal(ctx context.Context, sig *db.Signal) error
}

// Config holds the scanner's symbol universe settings
type Config struct {
	Symbols    []string // explicit universe; empty means discover by volume
	TopSymbols int      // universe size when discovering

	// WindowBars overrides how many candles each scan requests. Values
	// below indicator warm-up fall back to the default lookback.
	WindowBars int

	// DisableAfter is how many consecutive failed scans a symbol survives
	// before it is dropped from the universe until restart. 0 disables.
	DisableAfter int
}

// Scanner evaluates one timeframe across the whole symbol universe
type Scanner struct {
	venue    exchange.Venue
	fetcher  *exchange.BatchFetcher
	registry *market.Registry
	store    SignalStore
	cfg      Config

	// optional side effects, nil-safe
	hub    ws.Publisher
	alerts *alerts.Manager
	trades TradeOpener

	now func() time.Time

	mu       sync.Mutex
	failures map[string]int
	disabled map[string]bool
}

// New creates a scanner over a venue, config registry and signal store
func New(venue exchange.Venue, registry *market.Registry, store SignalStore, cfg Config) *Scanner {
	if cfg.TopSymbols <= 0 {
		cfg.TopSymbols = 50
	}
	return &Scanner{
		venue:    venue,
		fetcher:  exchange.NewBatchFetcher(venue, exchange.DefaultBatchConfig()),
		registry: registry,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		failures: make(map[string]int),
		disabled: make(map[string]bool),
	}
}

// WithHub attaches an event sink for signal broadcasts
func (s *Scanner) WithHub(hub ws.Publisher) *Scanner {
	s.hub = hub
	return s
}

// WithAlerts attaches an alert manager for signal notifications
func (s *Scanner) WithAlerts(mgr *alerts.Manager) *Scanner {
	s.alerts = mgr
	return s
}

// WithTradeOpener attaches a paper trading engine that opens a position
// for every inserted or upgraded signal
func (s *Scanner) WithTradeOpener(opener TradeOpener) *Scanner {
	s.trades = opener
	return s
}

// Summary reports the outcome of one scan cycle
type Summary struct {
	Timeframe    exchange.Interval `json:"timeframe"`
	Symbols      int               `json:"symbols"`
	Inserted     int               `json:"inserted"`
	Upgraded     int               `json:"upgraded"`
	Deduplicated int               `json:"deduplicated"`
	Errors       int               `json:"errors"`
	Elapsed      time.Duration     `json:"elapsed"`
}

// Scan runs one full cycle for the given timeframe. Per-symbol failures
// are counted and logged; they never abort the cycle.
func (s *Scanner) Scan(ctx context.Context, interval exchange.Interval) (Summary, error) {
	started := s.now()
	summary := Summary{Timeframe: interval}

	symbols, err := s.universe(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to resolve symbol universe: %w", err)
	}
	symbols = s.withoutDisabled(symbols)
	summary.Symbols = len(symbols)

	end := s.now()
	start := end.Add(-time.Duration(s.lookback()) * interval.Duration())
	batch := s.fetcher.FetchBatch(ctx, symbols, interval, start, end)

	confirms := s.fetchConfirmations(ctx, symbols, interval, end)

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		candles, ok := batch.Candles[symbol]
		if !ok {
			summary.Errors++
			metrics.SymbolScanErrors.Inc()
			log.Warn().
				Err(batch.Errors[symbol]).
				Str("symbol", symbol).
				Str("timeframe", string(interval)).
				Msg("Symbol fetch failed, skipping")
			s.noteFailure(ctx, symbol)
			continue
		}

		outcome, err := s.evaluateSymbol(ctx, symbol, interval, candles, confirms[symbol])
		if err != nil {
			summary.Errors++
			metrics.SymbolScanErrors.Inc()
			log.Error().
				Err(err).
				Str("symbol", symbol).
				Str("timeframe", string(interval)).
				Msg("Symbol evaluation failed")
			s.noteFailure(ctx, symbol)
			continue
		}
		s.noteSuccess(symbol)

		switch outcome {
		case db.SignalInserted:
			summary.Inserted++
		case db.SignalUpgraded:
			summary.Upgraded++
		case db.SignalDeduplicated:
			summary.Deduplicated++
			metrics.SignalsDeduplicated.Inc()
		}
	}

	summary.Elapsed = s.now().Sub(started)
	metrics.ScansTotal.WithLabelValues(string(interval)).Inc()
	metrics.ScanDuration.WithLabelValues(string(interval)).Observe(summary.Elapsed.Seconds())

	log.Info().
		Str("timeframe", string(interval)).
		Int("symbols", summary.Symbols).
		Int("inserted", summary.Inserted).
		Int("upgraded", summary.Upgraded).
		Int("deduplicated", summary.Deduplicated).
		Int("errors", summary.Errors).
		Dur("elapsed", summary.Elapsed).
		Msg("Scan cycle complete")

	return summary, nil
}

func (s *Scanner) lookback() int {
	if s.cfg.WindowBars >= indicators.MinBars {
		return s.cfg.WindowBars
	}
	return lookbackBars
}

func (s *Scanner) universe(ctx context.Context) ([]string, error) {
	if len(s.cfg.Symbols) > 0 {
		return s.cfg.Symbols, nil
	}
	return s.venue.TopSymbolsByVolume(ctx, s.cfg.TopSymbols)
}

func (s *Scanner) withoutDisabled(symbols []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.disabled) == 0 {
		return symbols
	}
	kept := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if !s.disabled[symbol] {
			kept = append(kept, symbol)
		}
	}
	return kept
}

// noteFailure counts consecutive failures per symbol and disables the
// symbol once the threshold is hit. Disabled symbols stay out of the
// universe until restart.
func (s *Scanner) noteFailure(ctx context.Context, symbol string) {
	if s.cfg.DisableAfter <= 0 {
		return
	}

	s.mu.Lock()
	s.failures[symbol]++
	tripped := s.failures[symbol] >= s.cfg.DisableAfter && !s.disabled[symbol]
	if tripped {
		s.disabled[symbol] = true
	}
	s.mu.Unlock()

	if !tripped {
		return
	}

	log.Warn().
		Str("symbol", symbol).
		Int("consecutive_failures", s.cfg.DisableAfter).
		Msg("Symbol disabled after repeated scan failures")
	if s.alerts != nil {
		s.alerts.SystemError(ctx, "scanner",
			fmt.Errorf("symbol %s disabled after %d consecutive failed scans", symbol, s.cfg.DisableAfter))
	}
}

func (s *Scanner) noteSuccess(symbol string) {
	s.mu.Lock()
	delete(s.failures, symbol)
	s.mu.Unlock()
}

// fetchConfirmations computes higher-timeframe snapshots for the agreement
// gate. Best effort: a missing confirmation skips the gate, it does not
// fail the symbol.
func (s *Scanner) fetchConfirmations(ctx context.Context, symbols []string, interval exchange.Interval, end time.Time) map[string]*indicators.Snapshot {
	confirms := make(map[string]*indicators.Snapshot, len(symbols))

	higher, ok := confirmOf[interval]
	if !ok {
		return confirms
	}

	start := end.Add(-time.Duration(s.lookback()) * higher.Duration())
	batch := s.fetcher.FetchBatch(ctx, symbols, higher, start, end)
	for symbol, candles := range batch.Candles {
		snap := indicators.Compute(candles)
		confirms[symbol] = &snap
	}
	return confirms
}

func (s *Scanner) evaluateSymbol(ctx context.Context, symbol string, interval exchange.Interval, candles []exchange.Candle, confirm *indicators.Snapshot) (string, error) {
	if err := exchange.ValidateCandles(candles, interval); err != nil {
		return "", err
	}

	snap := indicators.Compute(candles)
	cfg := s.registry.GetForSymbol(symbol)

	candidate, reason := rules.Evaluate(symbol, interval, snap, confirm, cfg)
	if candidate == nil {
		log.Debug().
			Str("symbol", symbol).
			Str("timeframe", string(interval)).
			Str("gate", reason).
			Msg("No signal")
		return "", nil
	}

	indicatorJSON, err := json.Marshal(candidate.Snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to marshal indicator snapshot: %w", err)
	}

	sig := &db.Signal{
		Symbol:        candidate.Symbol,
		Timeframe:     string(candidate.Timeframe),
		Direction:     string(candidate.Direction),
		MarketType:    string(candidate.MarketType),
		Entry:         candidate.Entry,
		StopLoss:      candidate.StopLoss,
		TakeProfit:    candidate.TakeProfit,
		Confidence:    candidate.Confidence,
		ConfigVersion: candidate.ConfigVersion,
		Indicators:    indicatorJSON,
	}

	outcome, err := s.store.UpsertSignal(ctx, sig, timeframePriority)
	if err != nil {
		return "", fmt.Errorf("failed to persist signal: %w", err)
	}

	if outcome == db.SignalInserted || outcome == db.SignalUpgraded {
		metrics.SignalsEmitted.WithLabelValues(sig.MarketType, sig.Direction).Inc()
		s.announce(ctx, sig, outcome)

		if s.trades != nil {
			if err := s.trades.OpenForSignal(ctx, sig); err != nil {
				log.Error().
					Err(err).
					Str("signal_id", sig.ID.String()).
					Msg("Failed to open paper trade for signal")
			} else if s.hub != nil {
				s.hub.Publish(ws.EventPaperTradeOpened, map[string]interface{}{
					"signal_id": sig.ID,
					"symbol":    sig.Symbol,
					"direction": sig.Direction,
					"entry":     sig.Entry,
				})
			}
		}
	}

	return outcome, nil
}

func (s *Scanner) announce(ctx context.Context, sig *db.Signal, outcome string) {
	if s.hub != nil {
		event := ws.EventSignalCreated
		if outcome == db.SignalUpgraded {
			event = ws.EventSignalUpgraded
		}
		s.hub.Publish(event, sig)
	}
	if s.alerts != nil {
		s.alerts.SignalCreated(ctx, sig.Symbol, sig.Timeframe, sig.Direction,
			sig.Entry, sig.StopLoss, sig.TakeProfit, sig.Confidence)
	}
}

func timeframePriority(timeframe string) int {
	return exchange.Interval(timeframe).Priority()
}
