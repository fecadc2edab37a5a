package market

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStrategyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadStrategyFile(t *testing.T) {
	path := writeStrategyFile(t, `
schema_version: "1.0.0"
markets:
  CRYPTO:
    long_rsi_min: 20
    long_rsi_max: 35
    short_rsi_min: 65
    short_rsi_max: 80
    long_adx_min: 20
    short_adx_min: 20
    long_volume_multiplier: 1.2
    short_volume_multiplier: 1.2
    sl_atr_multiplier: 1.5
    tp_atr_multiplier: 2.5
    min_confidence: 0.55
    timeframes: ["15m", "1h", "4h", "1d"]
`)

	file, err := LoadStrategyFile(path)
	require.NoError(t, err)

	cfg, ok := file.Markets[MarketCrypto]
	require.True(t, ok)
	assert.Equal(t, MarketCrypto, cfg.MarketType)
	assert.Equal(t, 1, cfg.Version, "version defaults to 1")
	assert.Equal(t, 3, cfg.MTFMinFactors, "agreement factors default to 3")
	assert.Positive(t, cfg.ConfidenceWeights.Sum(), "weights default when omitted")
}

func TestLoadStrategyFileRejectsWrongMajor(t *testing.T) {
	path := writeStrategyFile(t, `
schema_version: "2.0.0"
markets: {}
`)

	_, err := LoadStrategyFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadStrategyFileRejectsInvalidMarket(t *testing.T) {
	path := writeStrategyFile(t, `
schema_version: "1.1.0"
markets:
  FOREX:
    long_rsi_min: 90
    long_rsi_max: 10
    short_rsi_min: 65
    short_rsi_max: 80
    long_adx_min: 20
    short_adx_min: 20
    long_volume_multiplier: 1.0
    short_volume_multiplier: 1.0
    sl_atr_multiplier: 1.2
    tp_atr_multiplier: 2.0
    min_confidence: 0.5
    timeframes: ["1h"]
`)

	_, err := LoadStrategyFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStrategyFileApplyTo(t *testing.T) {
	path := writeStrategyFile(t, `
schema_version: "1.0.0"
markets:
  COMMODITY:
    long_rsi_min: 25
    long_rsi_max: 40
    short_rsi_min: 60
    short_rsi_max: 75
    long_adx_min: 22
    short_adx_min: 22
    long_volume_multiplier: 1.1
    short_volume_multiplier: 1.1
    sl_atr_multiplier: 1.8
    tp_atr_multiplier: 3.0
    min_confidence: 0.6
    timeframes: ["4h", "1d"]
`)

	file, err := LoadStrategyFile(path)
	require.NoError(t, err)

	r := NewRegistry(nil)
	file.ApplyTo(r)

	cfg := r.Get(MarketCommodity)
	assert.Equal(t, 0.6, cfg.MinConfidence)
	assert.Equal(t, []string{"4h", "1d"}, cfg.Timeframes)
}
