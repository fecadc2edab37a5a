package exchange

import (
	"context"
	"fmt"
	"time"
)

// QuoteFunc returns the current price for a symbol on a spot-only venue
type QuoteFunc func(ctx context.Context, symbol string) (float64, error)

// SyntheticSource adapts a spot-quote venue (forex and commodity feeds that
// only publish a current price) into a CandleSource. Each sampled quote
// becomes a zero-range candle with O=H=L=C and zero volume.
type SyntheticSource struct {
	quote QuoteFunc
}

// NewSyntheticSource creates a candle source backed by spot quotes
func NewSyntheticSource(quote QuoteFunc) *SyntheticSource {
	return &SyntheticSource{quote: quote}
}

// FetchCandles samples the current quote and returns it as a single candle
// stamped on the interval boundary containing now. Historical ranges cannot
// be served from a spot feed; callers accumulate these candles over time.
func (s *SyntheticSource) FetchCandles(ctx context.Context, symbol string, interval Interval, _, _ time.Time) ([]Candle, error) {
	price, err := s.quote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", symbol, err)
	}

	openTime := time.Now().UTC().Truncate(interval.Duration())
	return []Candle{{
		OpenTime:  openTime,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    0,
		CloseTime: openTime.Add(interval.Duration() - time.Millisecond),
	}}, nil
}

// FetchPrices quotes each symbol individually. Failed symbols are omitted.
func (s *SyntheticSource) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	result := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		price, err := s.quote(ctx, sym)
		if err != nil {
			continue
		}
		result[sym] = price
	}
	return result, nil
}
