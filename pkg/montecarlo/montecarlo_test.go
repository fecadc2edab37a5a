package montecarlo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
)

func flatCandles(start time.Time, n int, interval exchange.Interval) []exchange.Candle {
	dur := interval.Duration()
	candles := make([]exchange.Candle, n)
	for i := range candles {
		ts := start.Add(time.Duration(i) * dur)
		candles[i] = exchange.Candle{
			OpenTime: ts, Open: 100, High: 100, Low: 100, Close: 100,
			Volume: 1000, CloseTime: ts.Add(dur),
		}
	}
	return candles
}

func testConfig(sims int) Config {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Config{
		Symbols:   []string{"BTCUSDT"},
		Timeframe: exchange.Interval4h,
		Start:     start,
		End:       start.Add(30 * 24 * time.Hour),
		Base:      market.DefaultSignalConfig(market.MarketCrypto),
		Sims:      sims,
		Seed:      7,
		Dists: []ParamDist{
			{Name: "min_adx", Kind: DistUniform, Min: 15, Max: 30},
			{Name: "sl_atr_multiplier", Kind: DistDiscrete, Values: []float64{1.0, 1.5, 2.0}},
		},
	}
}

func testVenue(cfg Config) *exchange.MockVenue {
	venue := exchange.NewMockVenue()
	bars := int(cfg.End.Sub(cfg.Start) / cfg.Timeframe.Duration())
	venue.SetCandles("BTCUSDT", cfg.Timeframe, flatCandles(cfg.Start, bars, cfg.Timeframe))
	return venue
}

func TestRunHistogramCountsSumToSims(t *testing.T) {
	cfg := testConfig(100)
	result, err := Run(context.Background(), testVenue(cfg), cfg, nil)
	require.NoError(t, err)

	require.Len(t, result.Sims, 100)
	for metric, bins := range result.Histograms {
		total := 0
		for _, b := range bins {
			total += b.Count
		}
		assert.Equal(t, 100, total, "histogram %s", metric)
	}
}

func TestRunOrderingInvariants(t *testing.T) {
	cfg := testConfig(100)
	result, err := Run(context.Background(), testVenue(cfg), cfg, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.ROI.CI95[0], result.ROI.Median)
	assert.GreaterOrEqual(t, result.ROI.CI95[1], result.ROI.Median)
	assert.LessOrEqual(t, result.ROI.CI95[0], result.ROI.CI95[1])
	assert.GreaterOrEqual(t, result.VaR95, result.VaR99, "the 99 tail is at least as bad")
	assert.GreaterOrEqual(t, result.Robustness.Score, 0.0)
	assert.LessOrEqual(t, result.Robustness.Score, 100.0)
	assert.GreaterOrEqual(t, result.Best.ROIPct, result.Worst.ROIPct)
}

func TestRunIsSeedDeterministic(t *testing.T) {
	cfg := testConfig(20)
	venue := testVenue(cfg)

	first, err := Run(context.Background(), venue, cfg, nil)
	require.NoError(t, err)
	second, err := Run(context.Background(), venue, cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Sims, second.Sims)
	assert.Equal(t, first.Robustness, second.Robustness)
}

func TestRunValidatesSimCount(t *testing.T) {
	cfg := testConfig(5)
	_, err := Run(context.Background(), testVenue(cfg), cfg, nil)
	assert.Error(t, err)

	cfg.Sims = MaxSims + 1
	_, err = Run(context.Background(), testVenue(cfg), cfg, nil)
	assert.Error(t, err)
}

func TestRunValidatesDistributions(t *testing.T) {
	cfg := testConfig(10)
	cfg.Dists = []ParamDist{{Name: "min_adx", Kind: DistUniform, Min: 30, Max: 20}}
	_, err := Run(context.Background(), testVenue(cfg), cfg, nil)
	assert.Error(t, err)

	cfg.Dists = []ParamDist{{Name: "min_adx", Kind: "weird"}}
	_, err = Run(context.Background(), testVenue(cfg), cfg, nil)
	assert.Error(t, err)
}

func TestPercentileInterpolation(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 3.0, percentile(values, 50))
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 5.0, percentile(values, 100))
	assert.InDelta(t, 1.2, percentile(values, 5), 1e-9)
}

func TestScoreLabels(t *testing.T) {
	r := &Result{
		Sims: []SimResult{{ROIPct: 10}},
		ROI:  Stats{Mean: 10, Std: 1},
	}
	r.ProbProfit = 1
	r.Sharpe = Stats{Mean: 2}
	r.VaR95 = 5

	rb := scoreRobustness(r)
	assert.Equal(t, 100.0, rb.Score, "raw 120 capped at 100")
	assert.Equal(t, LabelRobust, rb.Label)
}
