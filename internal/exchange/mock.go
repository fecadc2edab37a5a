package exchange

import (
	"context"
	"sync"
	"time"
)

// MockVenue is an in-memory Venue for tests. Candles and prices are set by
// the test; every accessor is safe for concurrent use.
type MockVenue struct {
	mu      sync.RWMutex
	candles map[string]map[Interval][]Candle
	prices  map[string]float64
	top     []string

	fetchErr  error
	fetchLag  time.Duration
	fetchLog  []string
	priceErr  error
	callTimes []time.Time
}

// NewMockVenue creates an empty mock venue
func NewMockVenue() *MockVenue {
	return &MockVenue{
		candles: make(map[string]map[Interval][]Candle),
		prices:  make(map[string]float64),
	}
}

// SetCandles installs a candle series for a symbol and timeframe
func (m *MockVenue) SetCandles(symbol string, interval Interval, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candles[symbol] == nil {
		m.candles[symbol] = make(map[Interval][]Candle)
	}
	m.candles[symbol][interval] = candles
}

// SetPrice installs a current price for a symbol
func (m *MockVenue) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetTopSymbols installs the universe returned by TopSymbolsByVolume
func (m *MockVenue) SetTopSymbols(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.top = symbols
}

// SetFetchError makes every FetchCandles call fail with err
func (m *MockVenue) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// SetPriceError makes every FetchPrices call fail with err
func (m *MockVenue) SetPriceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceErr = err
}

// SetFetchLag adds an artificial delay to every FetchCandles call
func (m *MockVenue) SetFetchLag(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchLag = d
}

// FetchLog returns the symbols fetched, in call order
func (m *MockVenue) FetchLog() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.fetchLog))
	copy(out, m.fetchLog)
	return out
}

// CallTimes returns the timestamps of every FetchCandles call
func (m *MockVenue) CallTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]time.Time, len(m.callTimes))
	copy(out, m.callTimes)
	return out
}

// FetchCandles implements CandleSource
func (m *MockVenue) FetchCandles(ctx context.Context, symbol string, interval Interval, _, _ time.Time) ([]Candle, error) {
	m.mu.Lock()
	m.fetchLog = append(m.fetchLog, symbol)
	m.callTimes = append(m.callTimes, time.Now())
	err := m.fetchErr
	lag := m.fetchLag
	series := m.candles[symbol][interval]
	m.mu.Unlock()

	if lag > 0 {
		timer := time.NewTimer(lag)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]Candle, len(series))
	copy(out, series)
	return out, nil
}

// FetchPrices implements QuoteSource
func (m *MockVenue) FetchPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := m.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

// TopSymbolsByVolume implements UniverseSource
func (m *MockVenue) TopSymbolsByVolume(_ context.Context, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n > len(m.top) {
		n = len(m.top)
	}
	out := make([]string, n)
	copy(out, m.top[:n])
	return out, nil
}
