package exchange

import (
	"context"
	"time"
)

// CandleSource fetches OHLCV history for one symbol on one timeframe.
// Implementations must return candles in ascending open-time order.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Candle, error)
}

// QuoteSource fetches current prices for a set of symbols in one pass.
// Symbols the venue does not know are absent from the result, not errors.
type QuoteSource interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// UniverseSource lists the venue's most liquid symbols
type UniverseSource interface {
	TopSymbolsByVolume(ctx context.Context, n int) ([]string, error)
}

// Venue is the full exchange surface the scanner and trade monitor use
type Venue interface {
	CandleSource
	QuoteSource
	UniverseSource
}
