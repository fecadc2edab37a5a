package mltune

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

// Sample count bounds. Below the floor the train/val/test split leaves too
// few rows to fit anything.
const (
	MinSamples = 20
	MaxSamples = 2000
)

// Model kinds
const (
	ModelRandomForest  = "random_forest"
	ModelGradientBoost = "gradient_boost"
)

// Target metrics the surrogate can be fit against
const (
	TargetROI     = "roi_pct"
	TargetSharpe  = "sharpe"
	TargetWinRate = "win_rate"
)

// Split fractions for train/validation/test
const (
	trainFrac = 0.70
	valFrac   = 0.15
)

// Production-ready gate thresholds
const (
	minValR2      = 0.5
	minTrainR2    = 0.6
	maxOverfitGap = 0.2
)

// Config describes one tuning run
type Config struct {
	Symbols   []string            `json:"symbols"`
	Timeframe exchange.Interval   `json:"timeframe"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	Base      market.SignalConfig `json:"base_config"`
	Params    []ParamRange        `json:"parameters"`
	Samples   int                 `json:"samples"`
	Target    string              `json:"target"` // default roi_pct
	Model     string              `json:"model"`  // default random_forest
	Seed      int64               `json:"seed"`

	// HoldoutFrac is the trailing share of the date range reserved for the
	// out-of-sample gate backtest. Defaults to 0.2.
	HoldoutFrac float64 `json:"holdout_frac"`

	InitialCapital float64 `json:"initial_capital"`
	PositionSize   float64 `json:"position_size"`
	MaxPositions   int     `json:"max_positions"`
}

// Sample is one backtested parameter draw
type Sample struct {
	Params map[string]float64 `json:"params"`
	Target float64            `json:"target"`
}

// SplitScores holds R² per data split
type SplitScores struct {
	Train float64 `json:"train"`
	Val   float64 `json:"val"`
	Test  float64 `json:"test"`
}

// Prediction is a model estimate with a 0..1 confidence
type Prediction struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Candidate is a predicted-good parameter set
type Candidate struct {
	Params     map[string]float64 `json:"params"`
	Predicted  float64            `json:"predicted"`
	Confidence float64            `json:"confidence"`
}

// Sensitivity is a one-dimensional sweep of a single parameter with all
// others held at their range midpoints
type Sensitivity struct {
	Param       string    `json:"param"`
	Values      []float64 `json:"values"`
	Predictions []float64 `json:"predictions"`
}

// Result aggregates the tuning run
type Result struct {
	Config          Config             `json:"config"`
	Samples         []Sample           `json:"samples"`
	Features        []string           `json:"features"`
	R2              SplitScores        `json:"r2"`
	OverfitGap      float64            `json:"overfit_gap"`
	Importance      map[string]float64 `json:"feature_importance"`
	Sensitivities   []Sensitivity      `json:"sensitivities"`
	Best            []Candidate        `json:"best_candidates"`
	OOSROIPct       float64            `json:"oos_roi_pct"`
	ProductionReady bool               `json:"production_ready"`

	Model *Model `json:"-"`
}

// Model is the fitted surrogate, usable for ad-hoc predictions after the
// run completes
type Model struct {
	kind     string
	features []string
	forest   *forest
	boosted  *boostedModel
	valR2    float64
}

// Predict estimates the target metric for a parameter set. Forest
// confidence comes from ensemble agreement; boosted models fall back to
// the validation fit.
func (m *Model) Predict(params map[string]float64) Prediction {
	row := featureVector(m.features, params)
	switch m.kind {
	case ModelGradientBoost:
		return Prediction{Value: m.boosted.predict(row), Confidence: clamp01(m.valR2)}
	default:
		value, std := m.forest.predict(row)
		return Prediction{Value: value, Confidence: 1 / (1 + std)}
	}
}

func (m *Model) importance() []float64 {
	if m.kind == ModelGradientBoost {
		return m.boosted.importance
	}
	return m.forest.importance
}

// Run samples the parameter space with a Latin hypercube, backtests every
// draw over the training window, fits the surrogate model and evaluates
// its best candidate on the held-out tail of the date range. Everything is
// driven by the config seed, so identical configs reproduce identical
// results. OnProgress, when non-nil, is called after every sample backtest.
func Run(ctx context.Context, source exchange.CandleSource, cfg Config, onProgress func(done, total int)) (*Result, error) {
	if cfg.Samples < MinSamples || cfg.Samples > MaxSamples {
		return nil, fmt.Errorf("samples must be in [%d, %d], got %d", MinSamples, MaxSamples, cfg.Samples)
	}
	if len(cfg.Params) == 0 {
		return nil, fmt.Errorf("at least one parameter range required")
	}
	for _, p := range cfg.Params {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Target == "" {
		cfg.Target = TargetROI
	}
	switch cfg.Target {
	case TargetROI, TargetSharpe, TargetWinRate:
	default:
		return nil, fmt.Errorf("unknown target metric %q", cfg.Target)
	}
	if cfg.Model == "" {
		cfg.Model = ModelRandomForest
	}
	if cfg.Model != ModelRandomForest && cfg.Model != ModelGradientBoost {
		return nil, fmt.Errorf("unknown model kind %q", cfg.Model)
	}
	if cfg.HoldoutFrac <= 0 || cfg.HoldoutFrac >= 0.5 {
		cfg.HoldoutFrac = 0.2
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 100
	}

	span := cfg.End.Sub(cfg.Start)
	if span <= 0 {
		return nil, fmt.Errorf("end must be after start")
	}
	trainEnd := cfg.Start.Add(time.Duration(float64(span) * (1 - cfg.HoldoutFrac)))

	rng := rand.New(rand.NewSource(cfg.Seed)) // #nosec G404 -- reproducible sampling, not crypto

	result := &Result{Config: cfg, Features: featureNames(cfg.Params)}

	// ==================== Sample and backtest ====================

	draws := latinHypercube(cfg.Params, cfg.Samples, rng)
	x := make([][]float64, 0, cfg.Samples)
	y := make([]float64, 0, cfg.Samples)
	for i, params := range draws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		metrics, err := runBacktest(ctx, source, cfg, params, cfg.Start, trainEnd)
		if err != nil {
			return nil, fmt.Errorf("sample %d failed: %w", i+1, err)
		}
		target := pickTarget(metrics, cfg.Target)

		result.Samples = append(result.Samples, Sample{Params: params, Target: target})
		x = append(x, featureVector(result.Features, params))
		y = append(y, target)

		if onProgress != nil {
			onProgress(i+1, cfg.Samples)
		}
	}

	// ==================== Fit and score ====================

	trainIdx, valIdx, testIdx := splitIndices(len(x), rng)
	model := fitModel(cfg.Model, subset(x, trainIdx), subsetY(y, trainIdx), rng)
	model.features = result.Features
	result.Model = model

	result.R2 = SplitScores{
		Train: scoreSplit(model, x, y, trainIdx),
		Val:   scoreSplit(model, x, y, valIdx),
		Test:  scoreSplit(model, x, y, testIdx),
	}
	model.valR2 = result.R2.Val
	result.OverfitGap = result.R2.Train - result.R2.Val

	result.Importance = make(map[string]float64, len(result.Features))
	for i, name := range result.Features {
		result.Importance[name] = model.importance()[i]
	}
	result.Sensitivities = sweepSensitivities(model, cfg.Params, result.Features)

	// ==================== Candidate search and holdout gate ====================

	result.Best = FindOptimal(model, cfg.Params, 500, 5, rng)

	oos, err := runBacktest(ctx, source, cfg, result.Best[0].Params, trainEnd, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("holdout backtest failed: %w", err)
	}
	result.OOSROIPct = oos.ROIPct

	result.ProductionReady = result.R2.Val > minValR2 &&
		result.R2.Train > minTrainR2 &&
		result.OverfitGap < maxOverfitGap &&
		result.OOSROIPct > 0

	log.Info().
		Str("model", cfg.Model).
		Int("samples", len(result.Samples)).
		Float64("train_r2", result.R2.Train).
		Float64("val_r2", result.R2.Val).
		Float64("oos_roi_pct", result.OOSROIPct).
		Bool("production_ready", result.ProductionReady).
		Msg("Tuning run complete")

	return result, nil
}

// Refit rebuilds a surrogate from a completed run's stored samples so
// predictions can be served without re-running the backtests. The fit is
// deterministic per config seed but uses its own draw stream, so the split
// differs from the original run's.
func Refit(cfg Config, samples []Sample) (*Model, error) {
	if len(samples) < MinSamples {
		return nil, fmt.Errorf("need at least %d samples to refit, got %d", MinSamples, len(samples))
	}
	if cfg.Model == "" {
		cfg.Model = ModelRandomForest
	}

	features := featureNames(cfg.Params)
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = featureVector(features, s.Params)
		y[i] = s.Target
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) // #nosec G404 -- reproducible sampling, not crypto
	trainIdx, valIdx, _ := splitIndices(len(x), rng)
	model := fitModel(cfg.Model, subset(x, trainIdx), subsetY(y, trainIdx), rng)
	model.features = features
	model.valR2 = scoreSplit(model, x, y, valIdx)
	return model, nil
}

// FindOptimal samples n candidate parameter sets, scores them with the
// model and returns the topK by predicted target, best first.
func FindOptimal(model *Model, params []ParamRange, n, topK int, rng *rand.Rand) []Candidate {
	if topK > n {
		topK = n
	}
	draws := latinHypercube(params, n, rng)
	candidates := make([]Candidate, len(draws))
	for i, draw := range draws {
		pred := model.Predict(draw)
		candidates[i] = Candidate{Params: draw, Predicted: pred.Value, Confidence: pred.Confidence}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Predicted > candidates[j].Predicted
	})
	return candidates[:topK]
}

func runBacktest(ctx context.Context, source exchange.CandleSource, cfg Config, params map[string]float64, start, end time.Time) (backtest.Metrics, error) {
	btCfg := backtest.Config{
		Symbols:        cfg.Symbols,
		Timeframe:      cfg.Timeframe,
		Start:          start,
		End:            end,
		Signal:         applyParams(cfg.Base, params),
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

func pickTarget(m backtest.Metrics, target string) float64 {
	switch target {
	case TargetSharpe:
		return m.Sharpe
	case TargetWinRate:
		return m.WinRate
	default:
		return m.ROIPct
	}
}

// splitIndices shuffles row indices and cuts them 70/15/15
func splitIndices(n int, rng *rand.Rand) (train, val, test []int) {
	idx := rng.Perm(n)
	nTrain := int(float64(n) * trainFrac)
	nVal := int(float64(n) * valFrac)
	return idx[:nTrain], idx[nTrain : nTrain+nVal], idx[nTrain+nVal:]
}

func subset(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func subsetY(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}

func fitModel(kind string, x [][]float64, y []float64, rng *rand.Rand) *Model {
	m := &Model{kind: kind}
	switch kind {
	case ModelGradientBoost:
		m.boosted = fitBoosted(x, y, 100, 0.1, treeParams{maxDepth: 3, minLeaf: 3, featureFrac: 1.0}, rng)
	default:
		m.forest = fitForest(x, y, 50, treeParams{maxDepth: 6, minLeaf: 3, featureFrac: 0.6}, rng)
	}
	return m
}

func scoreSplit(m *Model, x [][]float64, y []float64, idx []int) float64 {
	actual := make([]float64, len(idx))
	predicted := make([]float64, len(idx))
	for i, j := range idx {
		actual[i] = y[j]
		predicted[i] = m.predictRow(x[j])
	}
	return rSquared(actual, predicted)
}

func (m *Model) predictRow(row []float64) float64 {
	if m.kind == ModelGradientBoost {
		return m.boosted.predict(row)
	}
	v, _ := m.forest.predict(row)
	return v
}

// sweepSensitivities probes each raw parameter in 20 steps with the rest
// pinned to their midpoints
func sweepSensitivities(m *Model, params []ParamRange, features []string) []Sensitivity {
	base := make(map[string]float64, len(params))
	for _, p := range params {
		base[p.Name] = p.midpoint()
	}

	const steps = 20
	out := make([]Sensitivity, 0, len(params))
	for _, p := range params {
		s := Sensitivity{Param: p.Name}
		for i := 0; i < steps; i++ {
			u := float64(i) / float64(steps-1)
			v := p.sample(u)
			probe := make(map[string]float64, len(base))
			for k, bv := range base {
				probe[k] = bv
			}
			probe[p.Name] = v
			s.Values = append(s.Values, v)
			s.Predictions = append(s.Predictions, m.predictRow(featureVector(features, probe)))
		}
		out = append(out, s)
	}
	return out
}

func (p ParamRange) midpoint() float64 {
	if len(p.Values) > 0 {
		return p.Values[len(p.Values)/2]
	}
	v := (p.Min + p.Max) / 2
	if p.Integer {
		v = math.Round(v)
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
