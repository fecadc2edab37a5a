package exchange

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandleCSV(t *testing.T) {
	t.Run("header row skipped", func(t *testing.T) {
		input := "open_time,open,high,low,close,volume\n" +
			"1717200000000,100,101,99,100.5,1200\n" +
			"1717203600000,100.5,102,100,101.5,1500\n"

		candles, err := parseCandleCSV(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, candles, 2)

		assert.Equal(t, time.UnixMilli(1717200000000), candles[0].OpenTime)
		assert.Equal(t, 100.0, candles[0].Open)
		assert.Equal(t, 101.5, candles[1].Close)
		assert.True(t, candles[0].CloseTime.Before(candles[1].OpenTime))
	})

	t.Run("rfc3339 timestamps accepted", func(t *testing.T) {
		input := "2025-06-01T00:00:00Z,100,101,99,100.5,1200\n" +
			"2025-06-01T01:00:00Z,100.5,102,100,101.5,1500\n"

		candles, err := parseCandleCSV(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, candles, 2)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), candles[0].OpenTime.UTC())
	})

	t.Run("bad numeric field rejected", func(t *testing.T) {
		input := "1717200000000,100,not_a_number,99,100.5,1200\n"
		_, err := parseCandleCSV(strings.NewReader(input))
		assert.Error(t, err)
	})

	t.Run("empty input rejected", func(t *testing.T) {
		_, err := parseCandleCSV(strings.NewReader(""))
		assert.Error(t, err)
	})
}
