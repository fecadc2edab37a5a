package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

func candlesFromCloses(closes []float64, spread float64) []exchange.Candle {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		candles[i] = exchange.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c + spread,
			Low:      c - spread,
			Close:    c,
			Volume:   1000,
		}
	}
	return candles
}

func TestATR(t *testing.T) {
	t.Run("constant spread converges to range", func(t *testing.T) {
		candles := candlesFromCloses(flatSeries(100, 40), 1)
		atr := ATR(candles, 14)
		for i := 0; i < 14; i++ {
			assert.True(t, math.IsNaN(atr[i]))
		}
		assert.InDelta(t, 2.0, atr[39], 1e-9, "TR is high-low = 2 on every bar")
	})

	t.Run("zero-range bars give zero ATR", func(t *testing.T) {
		candles := candlesFromCloses(flatSeries(100, 40), 0)
		atr := ATR(candles, 14)
		assert.Zero(t, atr[39], "flat synthetic series must not produce NaN or negative ATR")
	})

	t.Run("short series all NaN", func(t *testing.T) {
		candles := candlesFromCloses(flatSeries(100, 10), 1)
		atr := ATR(candles, 14)
		for _, v := range atr {
			assert.True(t, math.IsNaN(v))
		}
	})
}

func TestADX(t *testing.T) {
	t.Run("defined after double warm-up and bounded", func(t *testing.T) {
		candles := candlesFromCloses(rampSeries(100, 1, 80), 0.5)
		adx := ADX(candles, 14)

		for i := 0; i < 28; i++ {
			assert.True(t, math.IsNaN(adx[i]), "index %d should be warm-up", i)
		}
		for i := 28; i < 80; i++ {
			require.False(t, math.IsNaN(adx[i]))
			assert.GreaterOrEqual(t, adx[i], 0.0)
			assert.LessOrEqual(t, adx[i], 100.0)
		}
	})

	t.Run("strong trend scores high", func(t *testing.T) {
		candles := candlesFromCloses(rampSeries(100, 2, 80), 0.5)
		adx := ADX(candles, 14)
		assert.Greater(t, adx[79], 50.0, "one-directional movement should read as a very strong trend")
	})

	t.Run("flat market scores zero", func(t *testing.T) {
		candles := candlesFromCloses(flatSeries(100, 80), 1)
		adx := ADX(candles, 14)
		assert.InDelta(t, 0, adx[79], 1e-9, "no directional movement at all")
	})
}

func TestSnapshot(t *testing.T) {
	t.Run("ready on a full series", func(t *testing.T) {
		candles := candlesFromCloses(rampSeries(100, 0.5, 60), 1)
		snap := Compute(candles)

		assert.True(t, snap.Ready)
		assert.InDelta(t, 129.5, snap.Close, 1e-9)
		assert.Greater(t, snap.EMA9, snap.EMA20, "uptrend orders the EMAs fast over slow")
		assert.Greater(t, snap.EMA20, snap.EMA50)
		assert.Greater(t, snap.RSI, 50.0)
		assert.Positive(t, snap.MACDHist)
		assert.InDelta(t, 1000, snap.VolumeSMA20, 1e-9)
	})

	t.Run("not ready below warm-up", func(t *testing.T) {
		candles := candlesFromCloses(rampSeries(100, 0.5, MinBars-1), 1)
		snap := Compute(candles)
		assert.False(t, snap.Ready)
		assert.NotZero(t, snap.Close)
	})

	t.Run("empty series", func(t *testing.T) {
		snap := Compute(nil)
		assert.False(t, snap.Ready)
	})
}
