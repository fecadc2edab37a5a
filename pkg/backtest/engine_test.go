package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/rules"
)

// risingCandles climbs 0.5 per bar with a 1.5 true range, enough history
// for indicator warm-up
func risingCandles(n int, interval exchange.Interval) []exchange.Candle {
	dur := interval.Duration()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	candles := make([]exchange.Candle, n)
	for i := range candles {
		close := 100 + 0.5*float64(i)
		open := close - 0.5
		candles[i] = exchange.Candle{
			OpenTime:  start.Add(time.Duration(i) * dur),
			Open:      open,
			High:      close + 0.5,
			Low:       open - 0.5,
			Close:     close,
			Volume:    1000,
			CloseTime: start.Add(time.Duration(i+1) * dur),
		}
	}
	return candles
}

// admitAllConfig opens a LONG on any overbought rising series
func admitAllConfig() market.SignalConfig {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)
	cfg.LongRSIMin = 50
	cfg.LongRSIMax = 100
	cfg.ShortRSIMin = 0
	cfg.ShortRSIMax = 49
	cfg.LongADXMin = 0
	cfg.ShortADXMin = 0
	cfg.LongVolumeMultiplier = 0.5
	cfg.ShortVolumeMultiplier = 0.5
	cfg.SLATRMultiplier = 1.0
	cfg.TPATRMultiplier = 2.0
	cfg.MinConfidence = 0
	return cfg
}

func runConfig(candles int) (Config, *exchange.MockVenue) {
	venue := exchange.NewMockVenue()
	series := risingCandles(candles, exchange.Interval1h)
	venue.SetCandles("BTCUSDT", exchange.Interval1h, series)

	cfg := DefaultConfig([]string{"BTCUSDT"}, exchange.Interval1h,
		series[0].OpenTime, series[len(series)-1].CloseTime)
	cfg.Signal = admitAllConfig()
	return cfg, venue
}

func TestRunOpensAndClosesTrades(t *testing.T) {
	cfg, venue := runConfig(80)
	result, err := NewEngine(cfg).Run(context.Background(), venue)
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	first := result.Trades[0]
	assert.Equal(t, string(rules.DirectionLong), first.Direction)
	assert.Equal(t, ExitTakeProfit, first.ExitReason)
	assert.Equal(t, first.TakeProfit, first.Exit, "target exits fill at the threshold")
	assert.Greater(t, first.PnL, 0.0)
	assert.True(t, first.ExitTime.After(first.EntryTime))

	assert.Len(t, result.EquityCurve, 80)
}

func TestRunEquityReconcilesWithLedger(t *testing.T) {
	cfg, venue := runConfig(80)
	result, err := NewEngine(cfg).Run(context.Background(), venue)
	require.NoError(t, err)

	var net float64
	for _, tr := range result.Trades {
		net += tr.PnL
	}
	// everything is closed by the end, so equity is cash again
	assert.InDelta(t, cfg.InitialCapital+net, result.Metrics.FinalEquity, 1e-9)
	assert.InDelta(t, net, result.Metrics.NetPnL, 1e-9)
}

func TestRunIsDeterministic(t *testing.T) {
	cfg, venue := runConfig(120)

	first, err := NewEngine(cfg).Run(context.Background(), venue)
	require.NoError(t, err)
	second, err := NewEngine(cfg).Run(context.Background(), venue)
	require.NoError(t, err)

	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRunClosesAtEndOfData(t *testing.T) {
	// only two bars after the first possible entry; neither reaches the target
	cfg, venue := runConfig(52)
	result, err := NewEngine(cfg).Run(context.Background(), venue)
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	last := result.Trades[len(result.Trades)-1]
	assert.Equal(t, ExitEndOfData, last.ExitReason)
}

func TestStopWinsWhenBarStraddlesBothLevels(t *testing.T) {
	cfg, _ := runConfig(60)
	e := NewEngine(cfg)

	state := &replayState{
		cash:      cfg.InitialCapital - cfg.PositionSize,
		positions: map[string]*position{},
		indexes:   map[string]int{},
	}
	state.positions["BTCUSDT"] = &position{
		symbol:     "BTCUSDT",
		direction:  rules.DirectionLong,
		entry:      100,
		stopLoss:   98,
		takeProfit: 104,
		quantity:   1,
		lastClose:  100,
	}

	result := &Result{}
	wideBar := exchange.Candle{
		OpenTime:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Open:      100,
		High:      105, // touches the target
		Low:       97,  // and the stop
		Close:     101,
		CloseTime: time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC),
	}
	e.manageOpenPosition(state, result, "BTCUSDT", wideBar)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, ExitStopLoss, result.Trades[0].ExitReason)
	assert.Equal(t, 98.0, result.Trades[0].Exit)
	assert.Equal(t, -2.0, result.Trades[0].PnL)
}

func TestRunRejectsEmptySymbols(t *testing.T) {
	cfg := DefaultConfig(nil, exchange.Interval1h, time.Now().Add(-time.Hour), time.Now())
	_, err := NewEngine(cfg).Run(context.Background(), exchange.NewMockVenue())
	assert.Error(t, err)
}

func TestMaxDrawdownTracksPeak(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		{Timestamp: base, Equity: 100},
		{Timestamp: base.Add(time.Hour), Equity: 120},
		{Timestamp: base.Add(2 * time.Hour), Equity: 90},
		{Timestamp: base.Add(3 * time.Hour), Equity: 110},
	}
	abs, pct := maxDrawdown(curve)
	assert.Equal(t, 30.0, abs)
	assert.InDelta(t, 25.0, pct, 1e-9)
}
