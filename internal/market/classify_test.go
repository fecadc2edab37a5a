package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		symbol string
		want   MarketType
	}{
		{"BTCUSDT", MarketCrypto},
		{"ETHUSDT", MarketCrypto},
		{"SOLBTC", MarketCrypto},
		{"LINKETH", MarketCrypto},
		{"EURUSD", MarketForex},
		{"GBPJPY", MarketForex},
		{"AUDNZD", MarketForex},
		{"XAUUSD", MarketCommodity}, // looks like forex, curated as gold
		{"XAGUSD", MarketCommodity},
		{"WTIUSD", MarketCommodity},
		{"NATGAS", MarketCommodity},
		{"eurusd", MarketForex},    // case insensitive
		{" BTCUSDT ", MarketCrypto}, // whitespace trimmed
		{"UNKNOWN123", MarketCrypto}, // unknowns default to crypto
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.symbol))
		})
	}
}

func TestTagSplitsCryptoProducts(t *testing.T) {
	tests := []struct {
		symbol string
		want   SymbolTag
	}{
		{"BTCUSDT", TagCryptoSpot},
		{"ETHBTC", TagCryptoSpot},
		{"BTCUSD_PERP", TagCryptoFut},
		{"ETHUSDTPERP", TagCryptoFut},
		{"BTCUSDT_240927", TagCryptoFut}, // quarterly delivery
		{"EURUSD", TagForex},
		{"XAUUSD", TagCommodity},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, Tag(tt.symbol))
		})
	}

	// both crypto tags share the crypto registry slot
	assert.Equal(t, MarketCrypto, TagCryptoSpot.MarketType())
	assert.Equal(t, MarketCrypto, TagCryptoFut.MarketType())
	assert.Equal(t, MarketCrypto, Classify("BTCUSD_PERP"))
}

func TestClassifyCached(t *testing.T) {
	first := Classify("DOGEUSDT")
	second := Classify("DOGEUSDT")
	assert.Equal(t, first, second)
	assert.Equal(t, MarketCrypto, second)
}
