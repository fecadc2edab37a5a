package exchange

import (
	"fmt"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// klinePage synthesizes up to klinePageSize hourly bars in [cursor, end)
func klinePage(cursor, end time.Time) []*binance.Kline {
	var page []*binance.Kline
	for ts := cursor; ts.Before(end) && len(page) < klinePageSize; ts = ts.Add(time.Hour) {
		page = append(page, &binance.Kline{
			OpenTime:  ts.UnixMilli(),
			Open:      "100",
			High:      "101",
			Low:       "99",
			Close:     "100",
			Volume:    "1000",
			CloseTime: ts.Add(time.Hour).UnixMilli(),
		})
	}
	return page
}

func TestFetchKlinePagesCoversWideRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2500 * time.Hour) // two full pages plus a partial one

	calls := 0
	klines, err := fetchKlinePages(start, end, Interval1h, func(cursor time.Time) ([]*binance.Kline, error) {
		calls++
		return klinePage(cursor, end), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	require.Len(t, klines, 2500)

	// contiguous and duplicate-free across page boundaries
	for i, k := range klines {
		want := start.Add(time.Duration(i) * time.Hour).UnixMilli()
		require.Equal(t, want, k.OpenTime, "bar %d", i)
	}
}

func TestFetchKlinePagesStopsOnShortPage(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5000 * time.Hour)

	// venue history ends 400 bars in
	calls := 0
	klines, err := fetchKlinePages(start, end, Interval1h, func(cursor time.Time) ([]*binance.Kline, error) {
		calls++
		return klinePage(cursor, start.Add(400*time.Hour)), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Len(t, klines, 400)
}

func TestFetchKlinePagesStopsOnEmptyPage(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	calls := 0
	klines, err := fetchKlinePages(start, start.Add(time.Hour), Interval1h, func(time.Time) ([]*binance.Kline, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Empty(t, klines)
}

func TestFetchKlinePagesPropagatesError(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := fetchKlinePages(start, start.Add(48*time.Hour), Interval1h, func(time.Time) ([]*binance.Kline, error) {
		return nil, fmt.Errorf("venue unavailable")
	})
	assert.ErrorContains(t, err, "venue unavailable")
}

func TestFetchKlinePagesGuardsStalledCursor(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5000 * time.Hour)

	// a misbehaving venue keeps returning the same full page from before
	// the cursor; the loop must bail instead of spinning
	stale := klinePage(start.Add(-klinePageSize*time.Hour), start)
	require.Len(t, stale, klinePageSize)

	calls := 0
	klines, err := fetchKlinePages(start, end, Interval1h, func(time.Time) ([]*binance.Kline, error) {
		calls++
		return stale, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Len(t, klines, klinePageSize)
}
