// Package backtest replays historical candles through the signal rule
// engine and books simulated trades against a cash ledger.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/indicators"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/rules"
)

// Exit reasons recorded on closed trades
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitEndOfData  = "end_of_data"
)

// Config describes one backtest run
type Config struct {
	Symbols        []string            `json:"symbols"`
	Timeframe      exchange.Interval   `json:"timeframe"`
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	Signal         market.SignalConfig `json:"signal_config"`
	InitialCapital float64             `json:"initial_capital"`
	PositionSize   float64             `json:"position_size"`
	MaxPositions   int                 `json:"max_positions"`
}

// DefaultConfig returns the baseline run parameters for a symbol set
func DefaultConfig(symbols []string, timeframe exchange.Interval, start, end time.Time) Config {
	return Config{
		Symbols:        symbols,
		Timeframe:      timeframe,
		Start:          start,
		End:            end,
		Signal:         market.DefaultSignalConfig(market.MarketCrypto),
		InitialCapital: 10000,
		PositionSize:   100,
		MaxPositions:   10,
	}
}

// Trade is one closed simulated position
type Trade struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Entry      float64   `json:"entry"`
	Exit       float64   `json:"exit"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exit_reason"`
}

// EquityPoint is portfolio equity at one bar
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result is the complete outcome of one run
type Result struct {
	Config      Config        `json:"config"`
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Metrics     Metrics       `json:"metrics"`
}

// position is one open simulated position during replay
type position struct {
	symbol     string
	direction  rules.Direction
	entryTime  time.Time
	entry      float64
	stopLoss   float64
	takeProfit float64
	quantity   float64
	lastClose  float64
}

// Engine replays candles bar by bar. A fresh engine is built per run; the
// type carries no state between runs.
type Engine struct {
	cfg Config

	// OnProgress, when set, is called after each processed timeline step
	OnProgress func(done, total int)
}

// NewEngine creates an engine for one configuration
func NewEngine(cfg Config) *Engine {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 10
	}
	return &Engine{cfg: cfg}
}

// Run fetches candles from the source and replays them chronologically.
// The replay is deterministic: identical inputs produce an identical trade
// ledger and equity curve.
func (e *Engine) Run(ctx context.Context, source exchange.CandleSource) (*Result, error) {
	if len(e.cfg.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	if e.cfg.InitialCapital <= 0 || e.cfg.PositionSize <= 0 {
		return nil, fmt.Errorf("capital and position size must be positive")
	}

	series := make(map[string][]exchange.Candle, len(e.cfg.Symbols))
	for _, symbol := range e.cfg.Symbols {
		candles, err := source.FetchCandles(ctx, symbol, e.cfg.Timeframe, e.cfg.Start, e.cfg.End)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s candles: %w", symbol, err)
		}
		if err := exchange.ValidateCandles(candles, e.cfg.Timeframe); err != nil {
			return nil, fmt.Errorf("bad candle series for %s: %w", symbol, err)
		}
		series[symbol] = candles
	}

	timeline := buildTimeline(series)
	log.Info().
		Int("symbols", len(series)).
		Int("bars", len(timeline)).
		Str("timeframe", string(e.cfg.Timeframe)).
		Msg("Starting backtest replay")

	state := &replayState{
		cash:      e.cfg.InitialCapital,
		positions: make(map[string]*position),
		indexes:   make(map[string]int, len(series)),
	}

	// symbols in fixed order so concurrent-position admission is stable
	symbols := make([]string, 0, len(series))
	for s := range series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	result := &Result{Config: e.cfg}
	for step, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, symbol := range symbols {
			candles := series[symbol]
			i := state.indexes[symbol]
			if i >= len(candles) || !candles[i].OpenTime.Equal(ts) {
				continue
			}

			bar := candles[i]
			e.manageOpenPosition(state, result, symbol, bar)
			e.maybeOpenPosition(state, symbol, candles[:i+1], bar)
			state.indexes[symbol] = i + 1
		}

		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: ts,
			Equity:    state.equity(),
		})

		if e.OnProgress != nil {
			e.OnProgress(step+1, len(timeline))
		}
	}

	e.closeRemaining(state, result, series)

	result.Metrics = CalculateMetrics(e.cfg, result.Trades, result.EquityCurve)
	log.Info().
		Int("trades", result.Metrics.TotalTrades).
		Float64("roi_pct", result.Metrics.ROIPct).
		Float64("max_dd_pct", result.Metrics.MaxDrawdownPct).
		Msg("Backtest complete")

	return result, nil
}

type replayState struct {
	cash      float64
	positions map[string]*position
	indexes   map[string]int
}

// equity marks every open position to its last seen close
func (s *replayState) equity() float64 {
	eq := s.cash
	for _, p := range s.positions {
		eq += p.markToMarket()
	}
	return eq
}

// markToMarket values the position at its last close, entry notional plus
// unrealized move
func (p *position) markToMarket() float64 {
	move := (p.lastClose - p.entry) * p.quantity
	if p.direction == rules.DirectionShort {
		move = -move
	}
	return p.entry*p.quantity + move
}

// manageOpenPosition closes the symbol's position if the bar range crossed
// its stop or target. A bar touching both books the stop: the conservative
// reading of intrabar ordering.
func (e *Engine) manageOpenPosition(state *replayState, result *Result, symbol string, bar exchange.Candle) {
	p, ok := state.positions[symbol]
	if !ok {
		return
	}
	p.lastClose = bar.Close

	var exit float64
	var reason string
	if p.direction == rules.DirectionLong {
		switch {
		case bar.Low <= p.stopLoss:
			exit, reason = p.stopLoss, ExitStopLoss
		case bar.High >= p.takeProfit:
			exit, reason = p.takeProfit, ExitTakeProfit
		}
	} else {
		switch {
		case bar.High >= p.stopLoss:
			exit, reason = p.stopLoss, ExitStopLoss
		case bar.Low <= p.takeProfit:
			exit, reason = p.takeProfit, ExitTakeProfit
		}
	}
	if reason == "" {
		return
	}

	e.closePosition(state, result, p, exit, bar.CloseTime, reason)
}

// maybeOpenPosition evaluates the window ending at this bar and opens a
// position at bar close when a candidate qualifies and limits allow.
func (e *Engine) maybeOpenPosition(state *replayState, symbol string, window []exchange.Candle, bar exchange.Candle) {
	if _, open := state.positions[symbol]; open {
		return
	}
	if len(state.positions) >= e.cfg.MaxPositions || state.cash < e.cfg.PositionSize {
		return
	}
	if len(window) < indicators.MinBars {
		return
	}

	snap := indicators.Compute(window)
	candidate, _ := rules.Evaluate(symbol, e.cfg.Timeframe, snap, nil, e.cfg.Signal)
	if candidate == nil {
		return
	}

	quantity := e.cfg.PositionSize / bar.Close
	state.positions[symbol] = &position{
		symbol:     symbol,
		direction:  candidate.Direction,
		entryTime:  bar.CloseTime,
		entry:      bar.Close,
		stopLoss:   candidate.StopLoss,
		takeProfit: candidate.TakeProfit,
		quantity:   quantity,
		lastClose:  bar.Close,
	}
	state.cash -= e.cfg.PositionSize
}

func (e *Engine) closePosition(state *replayState, result *Result, p *position, exit float64, at time.Time, reason string) {
	pnl := (exit - p.entry) * p.quantity
	if p.direction == rules.DirectionShort {
		pnl = -pnl
	}

	state.cash += e.cfg.PositionSize + pnl
	delete(state.positions, p.symbol)

	result.Trades = append(result.Trades, Trade{
		Symbol:     p.symbol,
		Direction:  string(p.direction),
		EntryTime:  p.entryTime,
		ExitTime:   at,
		Entry:      p.entry,
		Exit:       exit,
		StopLoss:   p.stopLoss,
		TakeProfit: p.takeProfit,
		Quantity:   p.quantity,
		PnL:        pnl,
		ExitReason: reason,
	})
}

// closeRemaining liquidates whatever is still open at the final bar close
func (e *Engine) closeRemaining(state *replayState, result *Result, series map[string][]exchange.Candle) {
	symbols := make([]string, 0, len(state.positions))
	for s := range state.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		p := state.positions[symbol]
		candles := series[symbol]
		last := candles[len(candles)-1]
		e.closePosition(state, result, p, last.Close, last.CloseTime, ExitEndOfData)
	}
}

// buildTimeline merges all series into one sorted list of distinct open times
func buildTimeline(series map[string][]exchange.Candle) []time.Time {
	seen := make(map[time.Time]struct{})
	var timeline []time.Time
	for _, candles := range series {
		for _, c := range candles {
			if _, ok := seen[c.OpenTime]; !ok {
				seen[c.OpenTime] = struct{}{}
				timeline = append(timeline, c.OpenTime)
			}
		}
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return timeline
}
