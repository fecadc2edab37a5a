package exchange

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSeries(start time.Time, step time.Duration, n int) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		open := start.Add(time.Duration(i) * step)
		candles[i] = Candle{
			OpenTime:  open,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    1000,
			CloseTime: open.Add(step - time.Millisecond),
		}
	}
	return candles
}

func TestValidateCandles(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("valid series passes", func(t *testing.T) {
		candles := makeSeries(start, time.Hour, 10)
		assert.NoError(t, ValidateCandles(candles, Interval1h))
	})

	t.Run("empty series rejected", func(t *testing.T) {
		err := ValidateCandles(nil, Interval1h)
		assert.ErrorIs(t, err, ErrMalformedCandles)
	})

	t.Run("NaN field rejected", func(t *testing.T) {
		candles := makeSeries(start, time.Hour, 5)
		candles[2].Close = math.NaN()
		err := ValidateCandles(candles, Interval1h)
		assert.ErrorIs(t, err, ErrMalformedCandles)
	})

	t.Run("gap beyond one interval rejected", func(t *testing.T) {
		candles := makeSeries(start, time.Hour, 5)
		candles[3].OpenTime = candles[3].OpenTime.Add(time.Hour)
		candles[4].OpenTime = candles[4].OpenTime.Add(time.Hour)
		err := ValidateCandles(candles, Interval1h)
		assert.ErrorIs(t, err, ErrMalformedCandles)
	})

	t.Run("non-monotonic open times rejected", func(t *testing.T) {
		candles := makeSeries(start, time.Hour, 5)
		candles[2].OpenTime = candles[1].OpenTime
		err := ValidateCandles(candles, Interval1h)
		assert.ErrorIs(t, err, ErrMalformedCandles)
	})

	t.Run("high below low rejected", func(t *testing.T) {
		candles := makeSeries(start, time.Hour, 5)
		candles[1].High = 90
		err := ValidateCandles(candles, Interval1h)
		assert.ErrorIs(t, err, ErrMalformedCandles)
	})

	t.Run("zero-range bar accepted", func(t *testing.T) {
		candles := makeSeries(start, time.Hour, 5)
		candles[2].High = 100
		candles[2].Low = 100
		candles[2].Open = 100
		candles[2].Close = 100
		assert.NoError(t, ValidateCandles(candles, Interval1h))
		assert.True(t, candles[2].IsZeroRange())
	})
}

func TestIntervalPriority(t *testing.T) {
	assert.Greater(t, Interval1d.Priority(), Interval4h.Priority())
	assert.Greater(t, Interval4h.Priority(), Interval1h.Priority())
	assert.Greater(t, Interval1h.Priority(), Interval15m.Priority())
}

func TestParseInterval(t *testing.T) {
	for _, valid := range []string{"15m", "1h", "4h", "1d"} {
		iv, err := ParseInterval(valid)
		require.NoError(t, err)
		assert.Equal(t, Interval(valid), iv)
	}

	_, err := ParseInterval("5m")
	assert.Error(t, err)
}
