// Package walkforward validates a strategy by rolling train/test windows
// across a date range: parameters are tuned on each train window, locked,
// and judged on the unseen test window that follows.
package walkforward

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/pkg/backtest"
)

// MaxCombos bounds the per-window search so one walk-forward run stays
// a small multiple of a plain backtest
const MaxCombos = 10

// Config describes one walk-forward run
type Config struct {
	Symbols     []string            `json:"symbols"`
	Timeframe   exchange.Interval   `json:"timeframe"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	TrainWindow time.Duration       `json:"train_window"`
	TestWindow  time.Duration       `json:"test_window"`
	Step        time.Duration       `json:"step"`
	Base        market.SignalConfig `json:"base_config"`

	InitialCapital float64 `json:"initial_capital"`
	PositionSize   float64 `json:"position_size"`
	MaxPositions   int     `json:"max_positions"`

	Combos int   `json:"combos"` // candidates per train window, capped at MaxCombos
	Seed   int64 `json:"seed"`
}

// Window is one train/test pair with its outcome. A window whose data
// could not be evaluated carries Failed and its error; the run continues
// without it.
type Window struct {
	TrainStart time.Time           `json:"train_start"`
	TrainEnd   time.Time           `json:"train_end"`
	TestStart  time.Time           `json:"test_start"`
	TestEnd    time.Time           `json:"test_end"`
	Best       market.SignalConfig `json:"best_config"`
	InSample   backtest.Metrics    `json:"in_sample"`
	OutSample  backtest.Metrics    `json:"out_of_sample"`
	Failed     bool                `json:"failed,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Result aggregates the surviving windows
type Result struct {
	Config        Config   `json:"config"`
	Windows       []Window `json:"windows"`
	FailedWindows int      `json:"failed_windows"`
	MeanISROI     float64  `json:"mean_is_roi"`
	MeanOOSROI    float64  `json:"mean_oos_roi"`
	Degradation   float64  `json:"degradation"` // (IS - OOS) / |IS|
	Consistency   float64  `json:"consistency"` // fraction of usable windows with positive OOS
	Robust        bool     `json:"robust"`
}

// Run executes the walk-forward analysis. OnProgress, when non-nil, is
// called after each finished window.
func Run(ctx context.Context, source exchange.CandleSource, cfg Config, onProgress func(done, total int)) (*Result, error) {
	if cfg.TrainWindow <= 0 || cfg.TestWindow <= 0 || cfg.Step <= 0 {
		return nil, fmt.Errorf("train, test and step windows must be positive")
	}
	if cfg.Combos <= 0 || cfg.Combos > MaxCombos {
		cfg.Combos = MaxCombos
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 100
	}

	spans := windows(cfg.Start, cfg.End, cfg.TrainWindow, cfg.TestWindow, cfg.Step)
	if len(spans) == 0 {
		return nil, fmt.Errorf("range %s..%s too short for train %s + test %s",
			cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"),
			cfg.TrainWindow, cfg.TestWindow)
	}

	// one deterministic stream drives every window's candidate draws
	rng := rand.New(rand.NewSource(cfg.Seed)) // #nosec G404 -- reproducible sampling, not crypto

	result := &Result{Config: cfg}
	for i, s := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window, err := runWindow(ctx, source, cfg, s, rng)
		if err != nil {
			// a bad window is local: record it and keep rolling
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).
				Int("window", i+1).
				Time("train_start", s.trainStart).
				Msg("Walk-forward window failed")
			result.Windows = append(result.Windows, Window{
				TrainStart: s.trainStart,
				TrainEnd:   s.trainEnd,
				TestStart:  s.trainEnd,
				TestEnd:    s.testEnd,
				Failed:     true,
				Error:      err.Error(),
			})
		} else {
			result.Windows = append(result.Windows, *window)
		}

		if onProgress != nil {
			onProgress(i+1, len(spans))
		}
	}

	aggregate(result)
	if result.FailedWindows == len(result.Windows) {
		return nil, fmt.Errorf("all %d windows failed", len(result.Windows))
	}

	log.Info().
		Int("windows", len(result.Windows)).
		Int("failed_windows", result.FailedWindows).
		Float64("mean_is_roi", result.MeanISROI).
		Float64("mean_oos_roi", result.MeanOOSROI).
		Float64("degradation", result.Degradation).
		Bool("robust", result.Robust).
		Msg("Walk-forward complete")

	return result, nil
}

type span struct {
	trainStart, trainEnd, testEnd time.Time
}

func windows(start, end time.Time, train, test, step time.Duration) []span {
	var spans []span
	for ts := start; !ts.Add(train + test).After(end); ts = ts.Add(step) {
		spans = append(spans, span{
			trainStart: ts,
			trainEnd:   ts.Add(train),
			testEnd:    ts.Add(train + test),
		})
	}
	return spans
}

func runWindow(ctx context.Context, source exchange.CandleSource, cfg Config, s span, rng *rand.Rand) (*Window, error) {
	candidates := make([]market.SignalConfig, 0, cfg.Combos)
	candidates = append(candidates, cfg.Base) // baseline always competes
	for len(candidates) < cfg.Combos {
		candidates = append(candidates, perturb(cfg.Base, rng))
	}

	var best market.SignalConfig
	var bestMetrics backtest.Metrics
	bestROI := math.Inf(-1)

	for _, candidate := range candidates {
		metrics, err := runBacktest(ctx, source, cfg, candidate, s.trainStart, s.trainEnd)
		if err != nil {
			return nil, err
		}
		if metrics.ROIPct > bestROI {
			bestROI = metrics.ROIPct
			best = candidate
			bestMetrics = metrics
		}
	}

	oos, err := runBacktest(ctx, source, cfg, best, s.trainEnd, s.testEnd)
	if err != nil {
		return nil, err
	}

	return &Window{
		TrainStart: s.trainStart,
		TrainEnd:   s.trainEnd,
		TestStart:  s.trainEnd,
		TestEnd:    s.testEnd,
		Best:       best,
		InSample:   bestMetrics,
		OutSample:  oos,
	}, nil
}

func runBacktest(ctx context.Context, source exchange.CandleSource, cfg Config, signal market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
	btCfg := backtest.Config{
		Symbols:        cfg.Symbols,
		Timeframe:      cfg.Timeframe,
		Start:          start,
		End:            end,
		Signal:         signal,
		InitialCapital: cfg.InitialCapital,
		PositionSize:   cfg.PositionSize,
		MaxPositions:   cfg.MaxPositions,
	}
	result, err := backtest.NewEngine(btCfg).Run(ctx, source)
	if err != nil {
		return backtest.Metrics{}, err
	}
	return result.Metrics, nil
}

// perturb draws a nearby candidate around the base config, clamped to
// ranges the validator accepts
func perturb(base market.SignalConfig, rng *rand.Rand) market.SignalConfig {
	c := base
	c.LongRSIMin = clamp(base.LongRSIMin+rng.Float64()*10-5, 0, 45)
	c.LongRSIMax = clamp(base.LongRSIMax+rng.Float64()*10-5, c.LongRSIMin+1, 100)
	c.ShortRSIMin = clamp(base.ShortRSIMin+rng.Float64()*10-5, 0, 94)
	c.ShortRSIMax = clamp(base.ShortRSIMax+rng.Float64()*10-5, c.ShortRSIMin+1, 100)
	c.LongADXMin = clamp(base.LongADXMin+rng.Float64()*8-4, c.ADXNoTradeFloor, 50)
	c.ShortADXMin = clamp(base.ShortADXMin+rng.Float64()*8-4, c.ADXNoTradeFloor, 50)
	c.SLATRMultiplier = clamp(base.SLATRMultiplier+rng.Float64()*0.8-0.4, 0.5, 5)
	c.TPATRMultiplier = clamp(base.TPATRMultiplier+rng.Float64()*1.2-0.6, c.SLATRMultiplier+0.1, 10)
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func aggregate(r *Result) {
	var isSum, oosSum float64
	usable, positive := 0, 0
	for _, w := range r.Windows {
		if w.Failed {
			r.FailedWindows++
			continue
		}
		usable++
		isSum += w.InSample.ROIPct
		oosSum += w.OutSample.ROIPct
		if w.OutSample.ROIPct > 0 {
			positive++
		}
	}
	if usable == 0 {
		return
	}

	n := float64(usable)
	r.MeanISROI = isSum / n
	r.MeanOOSROI = oosSum / n
	r.Consistency = float64(positive) / n

	if r.MeanISROI != 0 {
		r.Degradation = (r.MeanISROI - r.MeanOOSROI) / math.Abs(r.MeanISROI)
	}

	r.Robust = r.MeanOOSROI > 0 && r.Degradation < 0.5 && r.Consistency > 0.5
}
