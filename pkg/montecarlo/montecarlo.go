// Package montecarlo stress-tests a strategy by backtesting many random
// parameter draws and summarizing the outcome distribution.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/pkg/backtest"
)

// Simulation count bounds
const (
	MinSims = 10
	MaxSims = 10000
)

// Distribution kinds for parameter draws
const (
	DistUniform  = "uniform"
	DistNormal   = "normal"
	DistDiscrete = "discrete"
)

// ParamDist describes how one strategy parameter is randomized
type ParamDist struct {
	Name   string    `json:"name"` // SignalConfig field, e.g. "min_adx"
	Kind   string    `json:"kind"`
	Min    float64   `json:"min,omitempty"`    // uniform
	Max    float64   `json:"max,omitempty"`    // uniform
	Mean   float64   `json:"mean,omitempty"`   // normal
	StdDev float64   `json:"stddev,omitempty"` // normal
	Values []float64 `json:"values,omitempty"` // discrete
}

// Config describes one Monte-Carlo run
type Config struct {
	Symbols   []string            `json:"symbols"`
	Timeframe exchange.Interval   `json:"timeframe"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	Base      market.SignalConfig `json:"base_config"`
	Dists     []ParamDist         `json:"distributions"`
	Sims      int                 `json:"simulations"`
	Seed      int64               `json:"seed"`

	InitialCapital float64 `json:"initial_capital"`
	PositionSize   float64 `json:"position_size"`
	MaxPositions   int     `json:"max_positions"`
}

// SimResult is the outcome of one randomized backtest
type SimResult struct {
	Params         map[string]float64 `json:"params"`
	ROIPct         float64            `json:"roi_pct"`
	MaxDrawdownPct float64            `json:"max_drawdown_pct"`
	WinRate        float64            `json:"win_rate"`
	Sharpe         float64            `json:"sharpe"`
}

// Stats summarizes one metric across all simulations
type Stats struct {
	Mean   float64    `json:"mean"`
	Median float64    `json:"median"`
	Std    float64    `json:"std"`
	P5     float64    `json:"p5"`
	P95    float64    `json:"p95"`
	P99    float64    `json:"p99"`
	CI95   [2]float64 `json:"ci_95"`
	CI99   [2]float64 `json:"ci_99"`
}

// HistBin is one histogram bucket
type HistBin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// Robustness is the five-criterion score
type Robustness struct {
	Score      float64 `json:"score"` // 0..100
	Label      string  `json:"label"`
	ProbProfit float64 `json:"prob_profit"`
	MeanSharpe float64 `json:"mean_sharpe"`
	VaR95      float64 `json:"var_95"`
	CoV        float64 `json:"cov"`
}

// Robustness labels
const (
	LabelRobust   = "robust"
	LabelModerate = "moderately_robust"
	LabelFragile  = "not_robust"
)

// Result aggregates all simulations
type Result struct {
	Config     Config               `json:"config"`
	Sims       []SimResult          `json:"simulations"`
	ROI        Stats                `json:"roi"`
	Drawdown   Stats                `json:"drawdown"`
	WinRate    Stats                `json:"win_rate"`
	Sharpe     Stats                `json:"sharpe"`
	ProbProfit float64              `json:"prob_profit"`
	VaR95      float64              `json:"var_95"`
	VaR99      float64              `json:"var_99"`
	Best       SimResult            `json:"best"`
	Worst      SimResult            `json:"worst"`
	Histograms map[string][]HistBin `json:"histograms"`
	Robustness Robustness           `json:"robustness"`
}

// Run executes the simulation set. Draws are driven by the config seed, so
// identical configs reproduce identical results. OnProgress, when non-nil,
// is called after every simulation.
func Run(ctx context.Context, source exchange.CandleSource, cfg Config, onProgress func(done, total int)) (*Result, error) {
	if cfg.Sims < MinSims || cfg.Sims > MaxSims {
		return nil, fmt.Errorf("simulations must be in [%d, %d], got %d", MinSims, MaxSims, cfg.Sims)
	}
	if len(cfg.Dists) == 0 {
		return nil, fmt.Errorf("at least one parameter distribution required")
	}
	for _, d := range cfg.Dists {
		if err := validateDist(d); err != nil {
			return nil, err
		}
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 100
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) // #nosec G404 -- reproducible sampling, not crypto

	result := &Result{Config: cfg, Sims: make([]SimResult, 0, cfg.Sims)}
	for i := 0; i < cfg.Sims; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := drawParams(cfg.Dists, rng)
		signal := applyParams(cfg.Base, params)

		btCfg := backtest.Config{
			Symbols:        cfg.Symbols,
			Timeframe:      cfg.Timeframe,
			Start:          cfg.Start,
			End:            cfg.End,
			Signal:         signal,
			InitialCapital: cfg.InitialCapital,
			PositionSize:   cfg.PositionSize,
			MaxPositions:   cfg.MaxPositions,
		}
		bt, err := backtest.NewEngine(btCfg).Run(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("simulation %d failed: %w", i+1, err)
		}

		result.Sims = append(result.Sims, SimResult{
			Params:         params,
			ROIPct:         bt.Metrics.ROIPct,
			MaxDrawdownPct: bt.Metrics.MaxDrawdownPct,
			WinRate:        bt.Metrics.WinRate,
			Sharpe:         bt.Metrics.Sharpe,
		})

		if onProgress != nil {
			onProgress(i+1, cfg.Sims)
		}
	}

	summarize(result)
	log.Info().
		Int("simulations", len(result.Sims)).
		Float64("mean_roi", result.ROI.Mean).
		Float64("prob_profit", result.ProbProfit).
		Float64("robustness", result.Robustness.Score).
		Msg("Monte-Carlo run complete")

	return result, nil
}

func validateDist(d ParamDist) error {
	switch d.Kind {
	case DistUniform:
		if d.Max <= d.Min {
			return fmt.Errorf("uniform %s: max must exceed min", d.Name)
		}
	case DistNormal:
		if d.StdDev <= 0 {
			return fmt.Errorf("normal %s: stddev must be positive", d.Name)
		}
	case DistDiscrete:
		if len(d.Values) == 0 {
			return fmt.Errorf("discrete %s: no values", d.Name)
		}
	default:
		return fmt.Errorf("unknown distribution kind %q for %s", d.Kind, d.Name)
	}
	return nil
}

func drawParams(dists []ParamDist, rng *rand.Rand) map[string]float64 {
	params := make(map[string]float64, len(dists))
	for _, d := range dists {
		switch d.Kind {
		case DistUniform:
			params[d.Name] = d.Min + rng.Float64()*(d.Max-d.Min)
		case DistNormal:
			params[d.Name] = d.Mean + rng.NormFloat64()*d.StdDev
		case DistDiscrete:
			params[d.Name] = d.Values[rng.Intn(len(d.Values))]
		}
	}
	return params
}

// applyParams overlays drawn values onto the base config by field name
func applyParams(base market.SignalConfig, params map[string]float64) market.SignalConfig {
	c := base
	for name, v := range params {
		switch name {
		case "long_rsi_min":
			c.LongRSIMin = v
		case "long_rsi_max":
			c.LongRSIMax = v
		case "short_rsi_min":
			c.ShortRSIMin = v
		case "short_rsi_max":
			c.ShortRSIMax = v
		case "long_adx_min":
			c.LongADXMin = v
		case "short_adx_min":
			c.ShortADXMin = v
		case "min_adx": // shorthand for both directions
			c.LongADXMin = v
			c.ShortADXMin = v
		case "long_volume_multiplier":
			c.LongVolumeMultiplier = v
		case "short_volume_multiplier":
			c.ShortVolumeMultiplier = v
		case "volume_multiplier": // shorthand for both directions
			c.LongVolumeMultiplier = v
			c.ShortVolumeMultiplier = v
		case "sl_atr_multiplier":
			c.SLATRMultiplier = v
		case "tp_atr_multiplier":
			c.TPATRMultiplier = v
		case "min_confidence":
			c.MinConfidence = v
		}
	}
	return c
}

func summarize(r *Result) {
	roi := metricValues(r.Sims, func(s SimResult) float64 { return s.ROIPct })
	dd := metricValues(r.Sims, func(s SimResult) float64 { return s.MaxDrawdownPct })
	wr := metricValues(r.Sims, func(s SimResult) float64 { return s.WinRate })
	sh := metricValues(r.Sims, func(s SimResult) float64 { return s.Sharpe })

	r.ROI = stats(roi)
	r.Drawdown = stats(dd)
	r.WinRate = stats(wr)
	r.Sharpe = stats(sh)

	profitable := 0
	bestIdx, worstIdx := 0, 0
	for i, s := range r.Sims {
		if s.ROIPct > 0 {
			profitable++
		}
		if s.ROIPct > r.Sims[bestIdx].ROIPct {
			bestIdx = i
		}
		if s.ROIPct < r.Sims[worstIdx].ROIPct {
			worstIdx = i
		}
	}
	r.ProbProfit = float64(profitable) / float64(len(r.Sims))
	r.Best = r.Sims[bestIdx]
	r.Worst = r.Sims[worstIdx]

	// VaR is the left tail of the ROI distribution; 99 is at least as bad as 95
	r.VaR95 = percentile(roi, 5)
	r.VaR99 = percentile(roi, 1)

	r.Histograms = map[string][]HistBin{
		"roi_pct":          histogram(roi, 10),
		"max_drawdown_pct": histogram(dd, 10),
		"win_rate":         histogram(wr, 10),
		"sharpe":           histogram(sh, 10),
	}

	r.Robustness = scoreRobustness(r)
}

func metricValues(sims []SimResult, pick func(SimResult) float64) []float64 {
	out := make([]float64, len(sims))
	for i, s := range sims {
		out[i] = pick(s)
	}
	return out
}

func stats(values []float64) Stats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(sorted)))

	return Stats{
		Mean:   mean,
		Median: percentileSorted(sorted, 50),
		Std:    std,
		P5:     percentileSorted(sorted, 5),
		P95:    percentileSorted(sorted, 95),
		P99:    percentileSorted(sorted, 99),
		CI95:   [2]float64{percentileSorted(sorted, 2.5), percentileSorted(sorted, 97.5)},
		CI99:   [2]float64{percentileSorted(sorted, 0.5), percentileSorted(sorted, 99.5)},
	}
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

// percentileSorted interpolates linearly between the two nearest ranks
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func histogram(values []float64, bins int) []HistBin {
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]HistBin, bins)
	width := (max - min) / float64(bins)
	if width == 0 {
		// degenerate distribution collapses into one bucket
		out[0] = HistBin{Low: min, High: max, Count: len(values)}
		for i := 1; i < bins; i++ {
			out[i] = HistBin{Low: min, High: max}
		}
		return out
	}

	for i := range out {
		out[i].Low = min + float64(i)*width
		out[i].High = out[i].Low + width
	}
	for _, v := range values {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}
	return out
}

// scoreRobustness combines five criteria: expected return, probability of
// profit, mean Sharpe, VaR bound and coefficient of variation. Raw weights
// sum past 100; the score is capped there.
func scoreRobustness(r *Result) Robustness {
	rb := Robustness{
		ProbProfit: r.ProbProfit,
		MeanSharpe: r.Sharpe.Mean,
		VaR95:      r.VaR95,
	}
	if r.ROI.Mean != 0 {
		rb.CoV = r.ROI.Std / math.Abs(r.ROI.Mean)
	}

	score := 0.0
	if r.ROI.Mean > 0 {
		score += 30
	}

	switch {
	case rb.ProbProfit >= 0.9:
		score += 25
	case rb.ProbProfit >= 0.7:
		score += 20
	case rb.ProbProfit >= 0.5:
		score += 12
	}

	switch {
	case rb.MeanSharpe >= 1.5:
		score += 25
	case rb.MeanSharpe >= 1.0:
		score += 18
	case rb.MeanSharpe >= 0.5:
		score += 10
	}

	switch {
	case rb.VaR95 >= 0:
		score += 20
	case rb.VaR95 >= -10:
		score += 12
	case rb.VaR95 >= -20:
		score += 6
	}

	switch {
	case rb.CoV <= 0.5:
		score += 20
	case rb.CoV <= 1.0:
		score += 12
	case rb.CoV <= 2.0:
		score += 6
	}

	if score > 100 {
		score = 100
	}
	rb.Score = score

	switch {
	case score >= 80:
		rb.Label = LabelRobust
	case score >= 60:
		rb.Label = LabelModerate
	default:
		rb.Label = LabelFragile
	}
	return rb
}
