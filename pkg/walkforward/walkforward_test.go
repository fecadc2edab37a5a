package walkforward

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
)

func flatCandles(start, end time.Time, interval exchange.Interval) []exchange.Candle {
	dur := interval.Duration()
	var candles []exchange.Candle
	for ts := start; ts.Before(end); ts = ts.Add(dur) {
		candles = append(candles, exchange.Candle{
			OpenTime:  ts,
			Open:      100,
			High:      100,
			Low:       100,
			Close:     100,
			Volume:    1000,
			CloseTime: ts.Add(dur),
		})
	}
	return candles
}

func testConfig() Config {
	return Config{
		Symbols:     []string{"BTCUSDT"},
		Timeframe:   exchange.Interval4h,
		Start:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		TrainWindow: 30 * 24 * time.Hour,
		TestWindow:  10 * 24 * time.Hour,
		Step:        10 * 24 * time.Hour,
		Base:        market.DefaultSignalConfig(market.MarketCrypto),
		Seed:        42,
	}
}

func TestWindowsCount(t *testing.T) {
	cfg := testConfig()
	spans := windows(cfg.Start, cfg.End, cfg.TrainWindow, cfg.TestWindow, cfg.Step)
	assert.Len(t, spans, 6)

	first := spans[0]
	assert.Equal(t, cfg.Start, first.trainStart)
	assert.Equal(t, cfg.Start.Add(cfg.TrainWindow), first.trainEnd)
	assert.Equal(t, cfg.Start.Add(cfg.TrainWindow+cfg.TestWindow), first.testEnd)
}

func TestRunFlatMarketHasZeroDegradation(t *testing.T) {
	cfg := testConfig()
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval4h,
		flatCandles(cfg.Start, cfg.End, exchange.Interval4h))

	result, err := Run(context.Background(), venue, cfg, nil)
	require.NoError(t, err)

	assert.Len(t, result.Windows, 6)
	// no trades anywhere, so in-sample equals out-of-sample exactly
	assert.Equal(t, result.MeanISROI, result.MeanOOSROI)
	assert.Equal(t, 0.0, result.Degradation)
	assert.False(t, result.Robust)
}

func TestRunIsSeedDeterministic(t *testing.T) {
	cfg := testConfig()
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval4h,
		flatCandles(cfg.Start, cfg.End, exchange.Interval4h))

	first, err := Run(context.Background(), venue, cfg, nil)
	require.NoError(t, err)
	second, err := Run(context.Background(), venue, cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Windows, second.Windows)
	assert.Equal(t, first.Degradation, second.Degradation)
}

func TestRunReportsProgressPerWindow(t *testing.T) {
	cfg := testConfig()
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval4h,
		flatCandles(cfg.Start, cfg.End, exchange.Interval4h))

	var seen []int
	_, err := Run(context.Background(), venue, cfg, func(done, total int) {
		assert.Equal(t, 6, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, seen)
}

// gappyVenue serves candles only for spans starting at or before cutoff,
// simulating a venue whose history ends mid-range
type gappyVenue struct {
	*exchange.MockVenue
	cutoff time.Time
}

func (g *gappyVenue) FetchCandles(ctx context.Context, symbol string, interval exchange.Interval, start, end time.Time) ([]exchange.Candle, error) {
	if start.After(g.cutoff) {
		return nil, fmt.Errorf("no candles for %s after %s", symbol, g.cutoff.Format("2006-01-02"))
	}
	return g.MockVenue.FetchCandles(ctx, symbol, interval, start, end)
}

func TestRunSurvivesFailedWindows(t *testing.T) {
	cfg := testConfig()
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval4h,
		flatCandles(cfg.Start, cfg.End, exchange.Interval4h))

	// history dries up 45 days in: windows 3..6 touch spans past the
	// cutoff, windows 1..2 stay evaluable
	gappy := &gappyVenue{MockVenue: venue, cutoff: cfg.Start.Add(45 * 24 * time.Hour)}

	result, err := Run(context.Background(), gappy, cfg, nil)
	require.NoError(t, err)

	require.Len(t, result.Windows, 6)
	assert.Equal(t, 4, result.FailedWindows)
	for i, w := range result.Windows {
		if i < 2 {
			assert.False(t, w.Failed, "window %d should be usable", i+1)
			assert.Empty(t, w.Error)
		} else {
			assert.True(t, w.Failed, "window %d should be marked failed", i+1)
			assert.NotEmpty(t, w.Error)
			assert.False(t, w.TrainStart.IsZero(), "failed windows keep their span")
		}
	}

	// aggregates cover only the two flat usable windows
	assert.Equal(t, result.MeanISROI, result.MeanOOSROI)
	assert.Equal(t, 0.0, result.Degradation)
}

func TestRunErrorsWhenEveryWindowFails(t *testing.T) {
	cfg := testConfig()

	// no candles installed at all, so every window's series is rejected
	_, err := Run(context.Background(), exchange.NewMockVenue(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "windows failed")
}

func TestRunRejectsShortRange(t *testing.T) {
	cfg := testConfig()
	cfg.End = cfg.Start.Add(24 * time.Hour)

	_, err := Run(context.Background(), exchange.NewMockVenue(), cfg, nil)
	assert.Error(t, err)
}

func TestAggregateVerdict(t *testing.T) {
	r := &Result{Windows: make([]Window, 4)}
	for i := range r.Windows {
		r.Windows[i].InSample.ROIPct = 10
		r.Windows[i].OutSample.ROIPct = 8
	}
	aggregate(r)

	assert.InDelta(t, 0.2, r.Degradation, 1e-9)
	assert.Equal(t, 1.0, r.Consistency)
	assert.True(t, r.Robust)
}
