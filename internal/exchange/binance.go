package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Request weights charged by the venue per endpoint
const (
	weightKlines      = 2
	weightPrices      = 4
	weightTickerStats = 80
)

// BinanceClient fetches market data from Binance. Every call passes through
// the rate limiter, the circuit breaker and the retry policy in that order.
type BinanceClient struct {
	client  *binance.Client
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// BinanceConfig configures the market data client
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	RateLimit RateLimiterConfig
	Retry     RetryConfig
}

// NewBinanceClient creates a Binance market data client
func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance client initialized (TESTNET mode)")
	} else {
		log.Info().Msg("Binance client initialized")
	}

	if cfg.RateLimit.MaxPerSecond == 0 {
		cfg.RateLimit = DefaultRateLimiterConfig()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &BinanceClient{
		client:  client,
		limiter: NewRateLimiter(cfg.RateLimit),
		breaker: newExchangeBreaker("binance"),
		retry:   cfg.Retry,
	}
}

// Limiter exposes the rate limiter for usage monitoring
func (b *BinanceClient) Limiter() *RateLimiter { return b.limiter }

// call runs fn under the limiter, breaker and retry policy
func (b *BinanceClient) call(ctx context.Context, op string, weight int, fn func() error) error {
	return WithRetry(ctx, b.retry, op, func() error {
		if err := b.limiter.Acquire(ctx, weight); err != nil {
			return err
		}
		_, err := b.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if err != nil {
			if classified := classifyVenueError(err); classified != nil {
				if _, ok := AsRateLimit(classified); ok {
					b.limiter.OnRateLimited()
				}
				return classified
			}
			return err
		}
		b.limiter.OnSuccess()
		return nil
	})
}

// klinePageSize is the venue's maximum klines per request
const klinePageSize = 1000

// fetchKlinePages pages through [start, end), re-requesting from just past
// the last returned bar until the range is covered or the venue runs dry.
func fetchKlinePages(start, end time.Time, interval Interval, fetch func(cursor time.Time) ([]*binance.Kline, error)) ([]*binance.Kline, error) {
	var klines []*binance.Kline
	cursor := start
	for cursor.Before(end) {
		page, err := fetch(cursor)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		klines = append(klines, page...)
		if len(page) < klinePageSize {
			break
		}
		next := time.UnixMilli(page[len(page)-1].OpenTime).Add(interval.Duration())
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return klines, nil
}

// FetchCandles retrieves OHLCV history for one symbol and timeframe. Ranges
// wider than one page are fetched page by page; each page pays its own
// request weight.
func (b *BinanceClient) FetchCandles(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Candle, error) {
	klines, err := fetchKlinePages(start, end, interval, func(cursor time.Time) ([]*binance.Kline, error) {
		var page []*binance.Kline
		err := b.call(ctx, "fetch_candles", weightKlines, func() error {
			var callErr error
			page, callErr = b.client.NewKlinesService().
				Symbol(symbol).
				Interval(string(interval)).
				StartTime(cursor.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(klinePageSize).
				Do(ctx)
			return callErr
		})
		return page, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s %s: %w", symbol, interval, err)
	}

	candles := make([]Candle, 0, len(klines))
	for i, k := range klines {
		c, err := convertKline(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s bar %d: %v", ErrMalformedCandles, symbol, interval, i, err)
		}
		candles = append(candles, c)
	}

	if err := ValidateCandles(candles, interval); err != nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, err)
	}

	return candles, nil
}

// FetchPrices retrieves current prices for the given symbols in one request.
// Unknown symbols are omitted from the result.
func (b *BinanceClient) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	var prices []*binance.SymbolPrice
	err := b.call(ctx, "fetch_prices", weightPrices, func() error {
		var callErr error
		prices, callErr = b.client.NewListPricesService().Symbols(symbols).Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}

	result := make(map[string]float64, len(prices))
	for _, p := range prices {
		price, parseErr := strconv.ParseFloat(p.Price, 64)
		if parseErr != nil {
			log.Warn().Str("symbol", p.Symbol).Str("price", p.Price).Msg("Unparseable price from venue, skipping")
			continue
		}
		result[p.Symbol] = price
	}

	return result, nil
}

// TopSymbolsByVolume returns the n USDT pairs with the highest 24h quote
// volume, descending. Leveraged tokens are excluded.
func (b *BinanceClient) TopSymbolsByVolume(ctx context.Context, n int) ([]string, error) {
	var stats []*binance.PriceChangeStats
	err := b.call(ctx, "top_symbols", weightTickerStats, func() error {
		var callErr error
		stats, callErr = b.client.NewListPriceChangeStatsService().Do(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch 24h ticker stats: %w", err)
	}

	type ranked struct {
		symbol string
		volume float64
	}
	candidates := make([]ranked, 0, len(stats))
	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, "USDT") {
			continue
		}
		base := strings.TrimSuffix(s.Symbol, "USDT")
		if strings.HasSuffix(base, "UP") || strings.HasSuffix(base, "DOWN") ||
			strings.HasSuffix(base, "BULL") || strings.HasSuffix(base, "BEAR") {
			continue
		}
		vol, parseErr := strconv.ParseFloat(s.QuoteVolume, 64)
		if parseErr != nil {
			continue
		}
		candidates = append(candidates, ranked{symbol: s.Symbol, volume: vol})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].volume > candidates[j].volume
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	symbols := make([]string, n)
	for i := 0; i < n; i++ {
		symbols[i] = candidates[i].symbol
	}

	return symbols, nil
}

func convertKline(k *binance.Kline) (Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("open: %v", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("high: %v", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("low: %v", err)
	}
	closePx, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("close: %v", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("volume: %v", err)
	}

	return Candle{
		OpenTime:  time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		CloseTime: time.UnixMilli(k.CloseTime),
	}, nil
}

// classifyVenueError maps Binance API errors onto the package sentinels.
// Returns nil when the error needs no reclassification.
func classifyVenueError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	// -1003 too much request weight, -1015 too many orders
	if apiErr.Code == -1003 || apiErr.Code == -1015 {
		return &RateLimitError{RetryAfter: time.Minute}
	}
	return nil
}
