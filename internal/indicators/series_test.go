package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSI(t *testing.T) {
	t.Run("warm-up positions are NaN", func(t *testing.T) {
		closes := rampSeries(100, 1, 30)
		rsi := RSI(closes, 14)
		require.Len(t, rsi, 30)
		for i := 0; i < 14; i++ {
			assert.True(t, math.IsNaN(rsi[i]), "index %d should be warm-up", i)
		}
		for i := 14; i < 30; i++ {
			assert.False(t, math.IsNaN(rsi[i]), "index %d should be defined", i)
		}
	})

	t.Run("all gains yields 100", func(t *testing.T) {
		closes := rampSeries(100, 1, 30)
		rsi := RSI(closes, 14)
		assert.InDelta(t, 100, rsi[len(rsi)-1], 1e-9)
	})

	t.Run("all losses yields 0", func(t *testing.T) {
		closes := rampSeries(100, -1, 30)
		rsi := RSI(closes, 14)
		assert.InDelta(t, 0, rsi[len(rsi)-1], 1e-9)
	})

	t.Run("flat series yields neutral 50", func(t *testing.T) {
		closes := flatSeries(100, 30)
		rsi := RSI(closes, 14)
		assert.InDelta(t, 50, rsi[len(rsi)-1], 1e-9)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		closes := rampSeries(100, 0.5, 30)
		original := append([]float64(nil), closes...)
		_ = RSI(closes, 14)
		assert.Equal(t, original, closes)
	})

	t.Run("deterministic", func(t *testing.T) {
		closes := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
			45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64}
		first := RSI(closes, 14)
		second := RSI(closes, 14)
		assert.Equal(t, first, second)
	})
}

func TestEMA(t *testing.T) {
	t.Run("constant series stays constant", func(t *testing.T) {
		ema := EMA(flatSeries(42, 20), 9)
		for i := 8; i < 20; i++ {
			assert.InDelta(t, 42, ema[i], 1e-9)
		}
	})

	t.Run("known small case", func(t *testing.T) {
		ema := EMA([]float64{1, 2, 3, 4, 5}, 3)
		assert.True(t, math.IsNaN(ema[0]))
		assert.True(t, math.IsNaN(ema[1]))
		assert.InDelta(t, 2.0, ema[2], 1e-9)
		assert.InDelta(t, 3.0, ema[3], 1e-9)
		assert.InDelta(t, 4.0, ema[4], 1e-9)
	})

	t.Run("series shorter than period is all NaN", func(t *testing.T) {
		ema := EMA([]float64{1, 2}, 5)
		for _, v := range ema {
			assert.True(t, math.IsNaN(v))
		}
	})
}

func TestSMA(t *testing.T) {
	sma := SMA([]float64{1, 2, 3, 4}, 2)
	require.Len(t, sma, 4)
	assert.True(t, math.IsNaN(sma[0]))
	assert.InDelta(t, 1.5, sma[1], 1e-9)
	assert.InDelta(t, 2.5, sma[2], 1e-9)
	assert.InDelta(t, 3.5, sma[3], 1e-9)
}

func TestMACD(t *testing.T) {
	closes := rampSeries(100, 0.5, 60)
	macd, signal, hist := MACD(closes, 12, 26, 9)

	require.Len(t, macd, 60)
	require.Len(t, signal, 60)
	require.Len(t, hist, 60)

	for i := 0; i < 25; i++ {
		assert.True(t, math.IsNaN(macd[i]), "macd index %d should be warm-up", i)
	}
	firstSignal := 26 + 9 - 2
	for i := firstSignal; i < 60; i++ {
		require.False(t, math.IsNaN(signal[i]), "signal index %d should be defined", i)
		assert.InDelta(t, macd[i]-signal[i], hist[i], 1e-9)
	}

	// a steady uptrend keeps the fast EMA above the slow one
	assert.Positive(t, macd[59])
}

func rampSeries(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func flatSeries(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}
