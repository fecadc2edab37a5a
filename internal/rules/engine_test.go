package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/indicators"
	"github.com/tradepulse/tradepulse/internal/market"
)

// longSetup is a snapshot that passes every long gate under the crypto
// defaults: oversold RSI, strong trend, volume surge.
func longSetup() indicators.Snapshot {
	return indicators.Snapshot{
		Close:       100,
		Volume:      2000,
		RSI:         25,
		ATR:         2,
		ADX:         30,
		EMA9:        101,
		EMA20:       100.5,
		EMA50:       99,
		MACD:        0.5,
		MACDSignal:  0.3,
		MACDHist:    0.2,
		VolumeSMA20: 1000,
		Ready:       true,
	}
}

func shortSetup() indicators.Snapshot {
	snap := longSetup()
	snap.RSI = 72
	snap.EMA9 = 99
	snap.EMA20 = 99.5
	snap.EMA50 = 101
	snap.MACDHist = -0.2
	snap.Close = 99.2
	return snap
}

// bullishConfirm agrees with a long on every factor
func bullishConfirm() *indicators.Snapshot {
	snap := longSetup()
	snap.RSI = 60
	snap.Close = 102
	return &snap
}

func TestEvaluateLong(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	cand, reason := Evaluate("BTCUSDT", exchange.Interval1h, longSetup(), bullishConfirm(), cfg)
	require.NotNil(t, cand, "rejected by gate %q", reason)

	assert.Equal(t, DirectionLong, cand.Direction)
	assert.Equal(t, 100.0, cand.Entry)
	assert.InDelta(t, 100-1.5*2, cand.StopLoss, 1e-9)
	assert.InDelta(t, 100+2.5*2, cand.TakeProfit, 1e-9)
	assert.Less(t, cand.StopLoss, cand.Entry)
	assert.Less(t, cand.Entry, cand.TakeProfit)
	assert.GreaterOrEqual(t, cand.Confidence, cfg.MinConfidence)
	assert.LessOrEqual(t, cand.Confidence, 1.0)
}

func TestEvaluateShort(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	bearish := shortSetup()
	bearish.RSI = 40 // confirming timeframe leaning down
	cand, reason := Evaluate("ETHUSDT", exchange.Interval4h, shortSetup(), &bearish, cfg)
	require.NotNil(t, cand, "rejected by gate %q", reason)

	assert.Equal(t, DirectionShort, cand.Direction)
	assert.Greater(t, cand.StopLoss, cand.Entry, "short stop sits above entry")
	assert.Less(t, cand.TakeProfit, cand.Entry, "short target sits below entry")
}

func TestEvaluateGates(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	tests := []struct {
		name       string
		mutate     func(*indicators.Snapshot)
		wantReason string
	}{
		{"not ready", func(s *indicators.Snapshot) { s.Ready = false }, "warm_up"},
		{"rsi neutral", func(s *indicators.Snapshot) { s.RSI = 50 }, "rsi_window"},
		{"adx too weak", func(s *indicators.Snapshot) { s.ADX = 10 }, "adx_min"},
		{"volume below multiple", func(s *indicators.Snapshot) { s.Volume = 1100 }, "volume"},
		{"flat range", func(s *indicators.Snapshot) { s.ATR = 0 }, "flat_range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := longSetup()
			tt.mutate(&snap)
			cand, reason := Evaluate("BTCUSDT", exchange.Interval1h, snap, nil, cfg)
			assert.Nil(t, cand)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestEvaluateDirectionalGates(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	// tighten only the short side; the long setup is untouched
	cfg.ShortADXMin = 40
	cand, reason := Evaluate("BTCUSDT", exchange.Interval1h, longSetup(), nil, cfg)
	require.NotNil(t, cand, "rejected by gate %q", reason)

	_, reason = Evaluate("BTCUSDT", exchange.Interval1h, shortSetup(), nil, cfg)
	assert.Equal(t, "adx_min", reason, "short gate fires at its own threshold")

	// same split on the volume side
	cfg = market.DefaultSignalConfig(market.MarketCrypto)
	cfg.ShortVolumeMultiplier = 3.0
	cand, reason = Evaluate("BTCUSDT", exchange.Interval1h, longSetup(), nil, cfg)
	require.NotNil(t, cand, "rejected by gate %q", reason)

	_, reason = Evaluate("BTCUSDT", exchange.Interval1h, shortSetup(), nil, cfg)
	assert.Equal(t, "volume", reason)
}

func TestEvaluateNoTradeFloor(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	// floor disabled by default
	snap := longSetup()
	snap.ADX = 15
	_, reason := Evaluate("BTCUSDT", exchange.Interval1h, snap, nil, cfg)
	assert.Equal(t, "adx_min", reason, "with the floor off the min gate fires")

	cfg.ADXNoTradeFloor = 18
	_, reason = Evaluate("BTCUSDT", exchange.Interval1h, snap, nil, cfg)
	assert.Equal(t, "adx_no_trade_floor", reason)
}

func TestEvaluateTimeframeAgreement(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	// confirming timeframe fully bearish while the setup is long
	bearish := indicators.Snapshot{
		Close: 90, Volume: 500, RSI: 30, ATR: 1, ADX: 30,
		EMA9: 89, EMA20: 91, EMA50: 95,
		MACDHist: -0.5, VolumeSMA20: 1000, Ready: true,
	}

	cand, reason := Evaluate("BTCUSDT", exchange.Interval1h, longSetup(), &bearish, cfg)
	assert.Nil(t, cand)
	assert.Equal(t, "timeframe_agreement", reason)

	// an unready confirm snapshot is skipped, not failed
	bearish.Ready = false
	cand, reason = Evaluate("BTCUSDT", exchange.Interval1h, longSetup(), &bearish, cfg)
	require.NotNil(t, cand, "rejected by gate %q", reason)
}

func TestEvaluateSyntheticVolumePasses(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketForex)

	snap := longSetup()
	snap.Volume = 0
	snap.VolumeSMA20 = 0 // spot feed carries no volume

	cand, reason := Evaluate("EURUSD", exchange.Interval1h, snap, nil, cfg)
	require.NotNil(t, cand, "rejected by gate %q", reason)
	assert.Equal(t, market.MarketForex, cand.MarketType)
}

func TestAgreementScore(t *testing.T) {
	assert.Equal(t, 6, AgreementScore(*bullishConfirm(), DirectionLong),
		"every factor aligned, volume above its SMA")
	assert.Equal(t, 1, AgreementScore(*bullishConfirm(), DirectionShort),
		"only the volume factor is direction-neutral")
}

func TestConfidenceBounds(t *testing.T) {
	cfg := market.DefaultSignalConfig(market.MarketCrypto)

	extremes := longSetup()
	extremes.RSI = cfg.LongRSIMin
	extremes.ADX = 80
	extremes.Volume = 10 * extremes.VolumeSMA20

	c := Confidence(extremes, DirectionLong, cfg)
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)

	weak := longSetup()
	weak.RSI = cfg.LongRSIMax
	weak.ADX = cfg.LongADXMin
	weak.Volume = weak.VolumeSMA20
	weak.MACDHist = -0.1

	assert.Less(t, Confidence(weak, DirectionLong, cfg), c,
		"weaker setup scores lower than the extreme one")
}
