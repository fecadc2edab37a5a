package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

func setupCache(t *testing.T, venue exchange.QuoteSource, ttl time.Duration) (*PriceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, venue, ttl), mr
}

func TestGetPricesCachesVenueFetches(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetPrice("BTCUSDT", 65000)
	venue.SetPrice("ETHUSDT", 3200)

	cache, _ := setupCache(t, venue, time.Minute)
	ctx := context.Background()

	prices, err := cache.GetPrices(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 65000.0, prices["BTCUSDT"])
	assert.Equal(t, 3200.0, prices["ETHUSDT"])

	// change the venue price; the cached value must still be served
	venue.SetPrice("BTCUSDT", 99999)
	prices, err = cache.GetPrices(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 65000.0, prices["BTCUSDT"])
}

func TestGetPricesExpiryFallsThrough(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetPrice("BTCUSDT", 65000)

	cache, mr := setupCache(t, venue, 5*time.Second)
	ctx := context.Background()

	_, err := cache.GetPrices(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)

	venue.SetPrice("BTCUSDT", 66000)
	mr.FastForward(10 * time.Second)

	prices, err := cache.GetPrices(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 66000.0, prices["BTCUSDT"], "expired entry refetched from the venue")
}

func TestGetPricesVenueFailureServesCachedSubset(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetPrice("BTCUSDT", 65000)

	cache, _ := setupCache(t, venue, time.Minute)
	ctx := context.Background()

	_, err := cache.GetPrices(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)

	venue.SetPriceError(errors.New("venue down"))

	prices, err := cache.GetPrices(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err, "cached symbols keep flowing when the venue is down")
	assert.Equal(t, 65000.0, prices["BTCUSDT"])
	assert.NotContains(t, prices, "ETHUSDT")

	// nothing cached at all surfaces the failure
	cache.Invalidate(ctx, []string{"BTCUSDT"})
	_, err = cache.GetPrices(ctx, []string{"BTCUSDT"})
	assert.Error(t, err)
}

func TestGetPricesUnknownSymbolOmitted(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetPrice("BTCUSDT", 65000)

	cache, _ := setupCache(t, venue, time.Minute)

	prices, err := cache.GetPrices(context.Background(), []string{"BTCUSDT", "NOPEUSDT"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
}
