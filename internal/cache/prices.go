// Package cache provides a Redis-backed price cache so the paper trade
// monitor and API never hammer the venue for the same quote twice within
// one monitoring window.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

const priceKeyPrefix = "tradepulse:price:"

// PriceCache caches current prices with a short TTL. Misses fall through to
// the venue in one batched request; hits never touch the venue.
type PriceCache struct {
	client *redis.Client
	source exchange.QuoteSource
	ttl    time.Duration
}

// New creates a price cache over a Redis client and a venue quote source
func New(client *redis.Client, source exchange.QuoteSource, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PriceCache{client: client, source: source, ttl: ttl}
}

// NewClient dials Redis and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Msg("Redis connection established")
	return client, nil
}

// GetPrices returns current prices for all symbols, serving from cache where
// possible and fetching the rest from the venue in one batch. Symbols the
// venue does not know are absent from the result.
func (c *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	result := make(map[string]float64, len(symbols))
	var missing []string

	for _, sym := range symbols {
		val, err := c.client.Get(ctx, priceKeyPrefix+sym).Result()
		if errors.Is(err, redis.Nil) {
			missing = append(missing, sym)
			continue
		}
		if err != nil {
			// cache trouble degrades to a venue fetch, never to a failure
			missing = append(missing, sym)
			continue
		}
		price, parseErr := strconv.ParseFloat(val, 64)
		if parseErr != nil {
			missing = append(missing, sym)
			continue
		}
		result[sym] = price
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.source.FetchPrices(ctx, missing)
	if err != nil {
		if len(result) > 0 {
			log.Warn().Err(err).Int("cached", len(result)).Msg("Venue price fetch failed, serving cached subset")
			return result, nil
		}
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}

	pipe := c.client.Pipeline()
	for sym, price := range fetched {
		result[sym] = price
		pipe.Set(ctx, priceKeyPrefix+sym, strconv.FormatFloat(price, 'f', -1, 64), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to populate price cache")
	}

	return result, nil
}

// Invalidate drops cached prices for the given symbols
func (c *PriceCache) Invalidate(ctx context.Context, symbols []string) {
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = priceKeyPrefix + sym
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate price cache")
	}
}
