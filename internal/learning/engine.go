// Package learning runs the continuous optimization loop: it perturbs the
// ACTIVE signal configuration per market type, backtests the candidates
// over a recent lookback and promotes a challenger only when it clearly
// beats the incumbent.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/alerts"
	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/metrics"
	"github.com/tradepulse/tradepulse/internal/ws"
	"github.com/tradepulse/tradepulse/pkg/backtest"
)

// Cycle trigger reasons
const (
	TriggerTradeCount      = "trade_count"
	TriggerScheduled       = "scheduled"
	TriggerPerformanceDrop = "performance_drop"
	TriggerManual          = "manual"
)

// Store is the subset of the database the learning loop needs
type Store interface {
	GetTradeCounter(ctx context.Context, marketType string) (int, time.Time, error)
	ResetTradeCounter(ctx context.Context, marketType string) error
	InsertOptimizationRun(ctx context.Context, run *db.OptimizationRun) error
	ArchiveCandidateConfig(ctx context.Context, cfg market.SignalConfig) error
}

// Config tunes the learning loop
type Config struct {
	// Symbols is the backtest universe; each cycle uses the subset that
	// classifies into the cycle's market type.
	Symbols []string

	Timeframe exchange.Interval
	Lookback  time.Duration

	// TradeThreshold is the closed-trade count that triggers a cycle
	TradeThreshold int

	// MinImprovementPct a challenger must clear to be promoted
	MinImprovementPct float64

	// DropThresholdPct of recent vs prior performance that triggers a cycle
	DropThresholdPct float64

	// MaxCandidates caps how many challengers a cycle backtests
	MaxCandidates int

	CheckInterval     time.Duration
	ScheduledInterval time.Duration

	// ScheduleWeekday and ScheduleHour anchor the scheduled cycle so it
	// fires at a fixed weekly slot instead of counting from boot
	ScheduleWeekday time.Weekday
	ScheduleHour    int
}

// DefaultConfig returns the production cadence
func DefaultConfig(symbols []string) Config {
	return Config{
		Symbols:           symbols,
		Timeframe:         exchange.Interval1h,
		Lookback:          30 * 24 * time.Hour,
		TradeThreshold:    200,
		MinImprovementPct: 5.0,
		DropThresholdPct:  15.0,
		MaxCandidates:     8,
		CheckInterval:     time.Hour,
		ScheduledInterval: 7 * 24 * time.Hour,
		ScheduleWeekday:   time.Sunday,
		ScheduleHour:      3,
	}
}

// CycleResult summarizes one optimization cycle
type CycleResult struct {
	MarketType       market.MarketType `json:"market_type"`
	Trigger          string            `json:"trigger"`
	BaselineFitness  float64           `json:"baseline_fitness"`
	BestFitness      float64           `json:"best_fitness"`
	ImprovementPct   float64           `json:"improvement_pct"`
	ImprovementFound bool              `json:"improvement_found"`
	CandidatesTested int               `json:"candidates_tested"`
	Promoted         bool              `json:"promoted"`
	PromotedVersion  int               `json:"promoted_version,omitempty"`
}

// backtestFunc runs one configuration over a window and returns its metrics
type backtestFunc func(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error)

// Engine owns the optimization loop for every market type
type Engine struct {
	cfg      Config
	registry *market.Registry
	store    Store
	source   exchange.CandleSource
	hub      ws.Publisher
	alerter  *alerts.Manager

	run backtestFunc
	now func() time.Time

	mu            sync.Mutex
	lastScheduled map[market.MarketType]time.Time
	lastDropCheck map[market.MarketType]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires the learning loop
func NewEngine(cfg Config, registry *market.Registry, store Store, source exchange.CandleSource) *Engine {
	e := &Engine{
		cfg:           cfg,
		registry:      registry,
		store:         store,
		source:        source,
		now:           time.Now,
		lastScheduled: make(map[market.MarketType]time.Time),
		lastDropCheck: make(map[market.MarketType]time.Time),
	}
	e.run = e.backtestConfig
	return e
}

// WithHub attaches the event sink for promotion broadcasts
func (e *Engine) WithHub(hub ws.Publisher) *Engine {
	e.hub = hub
	return e
}

// WithAlerts attaches the alert manager
func (e *Engine) WithAlerts(m *alerts.Manager) *Engine {
	e.alerter = m
	return e
}

// Start launches the trigger loop. Stop waits for an in-flight cycle.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	// anchor the scheduled clock to the last weekly slot so cycles fire
	// at the configured weekday and hour, not N days after boot
	now := e.now()
	anchor := weeklyAnchor(now, e.cfg.ScheduleWeekday, e.cfg.ScheduleHour)
	for _, mt := range market.AllMarketTypes {
		e.lastScheduled[mt] = anchor
		e.lastDropCheck[mt] = now
	}

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.checkTriggers(ctx)
			}
		}
	}()
	log.Info().
		Dur("check_interval", e.cfg.CheckInterval).
		Int("trade_threshold", e.cfg.TradeThreshold).
		Msg("Learning loop started")
}

// Stop halts the trigger loop
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) checkTriggers(ctx context.Context) {
	for _, mt := range market.AllMarketTypes {
		if len(e.symbolsFor(mt)) == 0 {
			continue
		}
		trigger, ok := e.dueTrigger(ctx, mt)
		if !ok {
			continue
		}
		if _, err := e.RunCycle(ctx, mt, trigger); err != nil {
			log.Error().Err(err).
				Str("market_type", string(mt)).
				Str("trigger", trigger).
				Msg("Optimization cycle failed")
		}
	}
}

func (e *Engine) dueTrigger(ctx context.Context, mt market.MarketType) (string, bool) {
	count, _, err := e.store.GetTradeCounter(ctx, string(mt))
	if err == nil && count >= e.cfg.TradeThreshold {
		return TriggerTradeCount, true
	}

	now := e.now()
	e.mu.Lock()
	scheduledDue := now.Sub(e.lastScheduled[mt]) >= e.cfg.ScheduledInterval
	dropDue := now.Sub(e.lastDropCheck[mt]) >= 24*time.Hour
	if scheduledDue {
		e.lastScheduled[mt] = now
	}
	if dropDue {
		e.lastDropCheck[mt] = now
	}
	e.mu.Unlock()

	if scheduledDue {
		return TriggerScheduled, true
	}
	if dropDue && e.performanceDropped(ctx, mt) {
		return TriggerPerformanceDrop, true
	}
	return "", false
}

// performanceDropped compares the ACTIVE config's recent half-lookback
// against the half before it
func (e *Engine) performanceDropped(ctx context.Context, mt market.MarketType) bool {
	cfg := e.registry.Get(mt)
	symbols := e.symbolsFor(mt)
	now := e.now()
	half := e.cfg.Lookback / 2

	recent, err := e.run(ctx, symbols, cfg, now.Add(-half), now)
	if err != nil {
		return false
	}
	prior, err := e.run(ctx, symbols, cfg, now.Add(-2*half), now.Add(-half))
	if err != nil {
		return false
	}
	if prior.ROIPct <= 0 {
		return false
	}
	dropPct := (prior.ROIPct - recent.ROIPct) / prior.ROIPct * 100
	return dropPct > e.cfg.DropThresholdPct
}

// RunCycle backtests the baseline and its perturbations over the lookback
// window and promotes the best challenger if it clears the improvement bar.
// A failed cycle never mutates the ACTIVE configuration.
func (e *Engine) RunCycle(ctx context.Context, mt market.MarketType, trigger string) (*CycleResult, error) {
	symbols := e.symbolsFor(mt)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols classify as %s", mt)
	}

	baseline := e.registry.Get(mt)
	end := e.now().UTC()
	start := end.Add(-e.cfg.Lookback)

	baselineMetrics, err := e.run(ctx, symbols, baseline, start, end)
	if err != nil {
		return nil, fmt.Errorf("baseline backtest failed: %w", err)
	}
	baselineFit := fitness(baselineMetrics)

	challengers := candidates(baseline)
	if e.cfg.MaxCandidates > 0 && len(challengers) > e.cfg.MaxCandidates {
		challengers = challengers[:e.cfg.MaxCandidates]
	}
	bestFit := math.Inf(-1)
	var best market.SignalConfig
	type candidateOutcome struct {
		Config  market.SignalConfig `json:"config"`
		Fitness float64             `json:"fitness"`
		ROIPct  float64             `json:"roi_pct"`
	}
	outcomes := make([]candidateOutcome, 0, len(challengers))

	for _, c := range challengers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := e.run(ctx, symbols, c, start, end)
		if err != nil {
			return nil, fmt.Errorf("candidate backtest failed: %w", err)
		}
		fit := fitness(m)
		outcomes = append(outcomes, candidateOutcome{Config: c, Fitness: fit, ROIPct: m.ROIPct})
		if fit > bestFit {
			bestFit, best = fit, c
		}
	}

	result := &CycleResult{
		MarketType:       mt,
		Trigger:          trigger,
		BaselineFitness:  baselineFit,
		BestFitness:      bestFit,
		CandidatesTested: len(challengers),
	}
	result.ImprovementPct = improvementPct(baselineFit, bestFit)
	result.ImprovementFound = result.ImprovementPct >= e.cfg.MinImprovementPct

	if result.ImprovementFound {
		if err := e.promote(ctx, baseline, best, result); err != nil {
			e.record(ctx, result, outcomes)
			metrics.OptimizationRuns.WithLabelValues(trigger, "error").Inc()
			return result, err
		}
		metrics.OptimizationRuns.WithLabelValues(trigger, "promoted").Inc()
	} else {
		// the losing best lands in config history so rejected tuning
		// attempts stay auditable
		if len(challengers) > 0 {
			if err := e.store.ArchiveCandidateConfig(ctx, best); err != nil {
				log.Error().Err(err).
					Str("market_type", string(mt)).
					Msg("Failed to archive losing candidate")
			}
		}
		metrics.OptimizationRuns.WithLabelValues(trigger, "no_improvement").Inc()
		log.Info().
			Str("market_type", string(mt)).
			Str("trigger", trigger).
			Float64("baseline_fitness", baselineFit).
			Float64("best_fitness", bestFit).
			Float64("improvement_pct", result.ImprovementPct).
			Msg("No candidate cleared the promotion bar")
	}

	e.record(ctx, result, outcomes)
	return result, nil
}

func (e *Engine) promote(ctx context.Context, baseline, best market.SignalConfig, result *CycleResult) error {
	promoted := best
	promoted.Version = baseline.Version + 1

	prior, err := e.registry.SetActive(ctx, promoted)
	if err != nil {
		return fmt.Errorf("failed to activate config: %w", err)
	}
	result.Promoted = true
	result.PromotedVersion = promoted.Version

	if err := e.store.ResetTradeCounter(ctx, string(promoted.MarketType)); err != nil {
		log.Error().Err(err).
			Str("market_type", string(promoted.MarketType)).
			Msg("Failed to reset trade counter after promotion")
	}

	metrics.ActiveConfigVersion.WithLabelValues(string(promoted.MarketType)).Set(float64(promoted.Version))
	if e.hub != nil {
		e.hub.Publish(ws.EventConfigPromoted, map[string]interface{}{
			"market_type":     string(promoted.MarketType),
			"version":         promoted.Version,
			"improvement_pct": result.ImprovementPct,
		})
	}
	if e.alerter != nil {
		e.alerter.ConfigPromoted(ctx, string(promoted.MarketType), promoted.Version, result.ImprovementPct)
	}

	log.Info().
		Str("market_type", string(promoted.MarketType)).
		Int("version", promoted.Version).
		Int("prior_version", prior).
		Float64("improvement_pct", result.ImprovementPct).
		Msg("Promoted challenger config")
	return nil
}

func (e *Engine) record(ctx context.Context, result *CycleResult, outcomes interface{}) {
	details, err := json.Marshal(outcomes)
	if err != nil {
		details = nil
	}
	run := &db.OptimizationRun{
		MarketType:       string(result.MarketType),
		Trigger:          result.Trigger,
		BaselineFitness:  result.BaselineFitness,
		BestFitness:      result.BestFitness,
		ImprovementPct:   result.ImprovementPct,
		ImprovementFound: result.ImprovementFound,
		CandidatesTested: result.CandidatesTested,
		Promoted:         result.Promoted,
		Details:          details,
	}
	if err := e.store.InsertOptimizationRun(ctx, run); err != nil {
		log.Error().Err(err).Msg("Failed to record optimization run")
	}
}

func (e *Engine) symbolsFor(mt market.MarketType) []string {
	var out []string
	for _, s := range e.cfg.Symbols {
		if market.Classify(s) == mt {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) backtestConfig(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
	result, err := backtest.NewEngine(backtest.Config{
		Symbols:        symbols,
		Timeframe:      e.cfg.Timeframe,
		Start:          start,
		End:            end,
		Signal:         cfg,
		InitialCapital: 10000,
		PositionSize:   100,
	}).Run(ctx, e.source)
	if err != nil {
		return backtest.Metrics{}, err
	}
	return result.Metrics, nil
}

// weeklyAnchor returns the most recent occurrence of weekday at hour, at
// or before now
func weeklyAnchor(now time.Time, weekday time.Weekday, hour int) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	daysBack := int(now.Weekday() - weekday)
	if daysBack < 0 {
		daysBack += 7
	}
	anchor = anchor.AddDate(0, 0, -daysBack)
	if anchor.After(now) {
		anchor = anchor.AddDate(0, 0, -7)
	}
	return anchor
}

// improvementPct is relative when the baseline fitness is meaningful and
// degenerates gracefully when it sits at zero
func improvementPct(baseline, best float64) float64 {
	if math.Abs(baseline) < 1e-9 {
		if best > 0 {
			return 100
		}
		return 0
	}
	return (best - baseline) / math.Abs(baseline) * 100
}
