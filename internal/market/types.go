package market

import (
	"errors"
	"fmt"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

// ErrInvalidConfig is returned when a signal configuration fails validation
var ErrInvalidConfig = errors.New("invalid signal config")

// MarketType partitions the symbol universe; each market type carries its
// own tuned signal configuration.
type MarketType string

const (
	MarketCrypto    MarketType = "CRYPTO"
	MarketForex     MarketType = "FOREX"
	MarketCommodity MarketType = "COMMODITY"
)

// AllMarketTypes lists every market type the registry must cover
var AllMarketTypes = []MarketType{MarketCrypto, MarketForex, MarketCommodity}

// SymbolTag refines classification down to the venue product: crypto
// symbols split into spot pairs and futures contracts. The registry stays
// three-way; both crypto tags share one configuration.
type SymbolTag string

const (
	TagCryptoSpot SymbolTag = "CRYPTO_SPOT"
	TagCryptoFut  SymbolTag = "CRYPTO_FUT"
	TagForex      SymbolTag = "FOREX"
	TagCommodity  SymbolTag = "COMMODITY"
)

// MarketType folds the tag onto the registry's partition
func (t SymbolTag) MarketType() MarketType {
	switch t {
	case TagForex:
		return MarketForex
	case TagCommodity:
		return MarketCommodity
	default:
		return MarketCrypto
	}
}

// ConfidenceWeights are the coefficients of the confidence composite.
// Each factor is normalized to [0,1] before weighting; the weighted sum is
// clamped to [0,1].
type ConfidenceWeights struct {
	RSIDepth     float64 `yaml:"rsi_depth" json:"rsi_depth"`
	ADXStrength  float64 `yaml:"adx_strength" json:"adx_strength"`
	VolumeRatio  float64 `yaml:"volume_ratio" json:"volume_ratio"`
	TrendAlign   float64 `yaml:"trend_align" json:"trend_align"`
	MACDMomentum float64 `yaml:"macd_momentum" json:"macd_momentum"`
}

// Sum returns the total weight mass
func (w ConfidenceWeights) Sum() float64 {
	return w.RSIDepth + w.ADXStrength + w.VolumeRatio + w.TrendAlign + w.MACDMomentum
}

// DefaultConfidenceWeights returns the baseline composite coefficients
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		RSIDepth:     0.30,
		ADXStrength:  0.25,
		VolumeRatio:  0.15,
		TrendAlign:   0.20,
		MACDMomentum: 0.10,
	}
}

// SignalConfig is one tunable rule set for one market type. The learning
// loop evolves these; version increases monotonically per market type.
type SignalConfig struct {
	MarketType MarketType `yaml:"market_type" json:"market_type"`
	Version    int        `yaml:"version" json:"version"`

	// RSI windows per direction
	LongRSIMin  float64 `yaml:"long_rsi_min" json:"long_rsi_min"`
	LongRSIMax  float64 `yaml:"long_rsi_max" json:"long_rsi_max"`
	ShortRSIMin float64 `yaml:"short_rsi_min" json:"short_rsi_min"`
	ShortRSIMax float64 `yaml:"short_rsi_max" json:"short_rsi_max"`

	// Trend strength gates per direction. ADXNoTradeFloor 0 disables the
	// floor.
	LongADXMin      float64 `yaml:"long_adx_min" json:"long_adx_min"`
	ShortADXMin     float64 `yaml:"short_adx_min" json:"short_adx_min"`
	ADXNoTradeFloor float64 `yaml:"adx_no_trade_floor" json:"adx_no_trade_floor"`

	// Volume confirmation per direction: bar volume must exceed
	// multiplier x SMA20
	LongVolumeMultiplier  float64 `yaml:"long_volume_multiplier" json:"long_volume_multiplier"`
	ShortVolumeMultiplier float64 `yaml:"short_volume_multiplier" json:"short_volume_multiplier"`

	// Risk geometry: stop and target distances as ATR multiples
	SLATRMultiplier float64 `yaml:"sl_atr_multiplier" json:"sl_atr_multiplier"`
	TPATRMultiplier float64 `yaml:"tp_atr_multiplier" json:"tp_atr_multiplier"`

	// Minimum composite confidence to emit a signal
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`

	// Timeframe agreement: factors that must align out of the six checked
	MTFMinFactors int `yaml:"mtf_min_factors" json:"mtf_min_factors"`

	ConfidenceWeights ConfidenceWeights `yaml:"confidence_weights" json:"confidence_weights"`

	// Timeframes scanned for this market type
	Timeframes []string `yaml:"timeframes" json:"timeframes"`
}

// DefaultSignalConfig returns the baseline rule set for a market type
func DefaultSignalConfig(mt MarketType) SignalConfig {
	cfg := SignalConfig{
		MarketType:            mt,
		Version:               1,
		LongRSIMin:            20,
		LongRSIMax:            35,
		ShortRSIMin:           65,
		ShortRSIMax:           80,
		LongADXMin:            20,
		ShortADXMin:           20,
		ADXNoTradeFloor:       0,
		LongVolumeMultiplier:  1.2,
		ShortVolumeMultiplier: 1.2,
		SLATRMultiplier:       1.5,
		TPATRMultiplier:       2.5,
		MinConfidence:         0.55,
		MTFMinFactors:         3,
		ConfidenceWeights:     DefaultConfidenceWeights(),
		Timeframes:            []string{"15m", "1h", "4h", "1d"},
	}

	switch mt {
	case MarketForex:
		// synthetic feeds carry no real volume
		cfg.LongVolumeMultiplier = 1.0
		cfg.ShortVolumeMultiplier = 1.0
		cfg.SLATRMultiplier = 1.2
		cfg.TPATRMultiplier = 2.0
	case MarketCommodity:
		cfg.LongADXMin = 22
		cfg.ShortADXMin = 22
		cfg.SLATRMultiplier = 1.8
		cfg.TPATRMultiplier = 3.0
	}

	return cfg
}

// Validate rejects configurations the rule engine cannot run safely
func (c SignalConfig) Validate() error {
	check := func(cond bool, format string, args ...interface{}) error {
		if !cond {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
		}
		return nil
	}

	checks := []error{
		check(c.MarketType == MarketCrypto || c.MarketType == MarketForex || c.MarketType == MarketCommodity,
			"unknown market type %q", c.MarketType),
		check(c.Version >= 1, "version must be >= 1, got %d", c.Version),
		check(c.LongRSIMin >= 0 && c.LongRSIMax <= 100 && c.LongRSIMin < c.LongRSIMax,
			"long RSI window [%.1f, %.1f] out of order", c.LongRSIMin, c.LongRSIMax),
		check(c.ShortRSIMin >= 0 && c.ShortRSIMax <= 100 && c.ShortRSIMin < c.ShortRSIMax,
			"short RSI window [%.1f, %.1f] out of order", c.ShortRSIMin, c.ShortRSIMax),
		check(c.LongADXMin >= 0 && c.LongADXMin <= 100, "long_adx_min %.1f out of range", c.LongADXMin),
		check(c.ShortADXMin >= 0 && c.ShortADXMin <= 100, "short_adx_min %.1f out of range", c.ShortADXMin),
		check(c.ADXNoTradeFloor >= 0 && c.ADXNoTradeFloor <= c.LongADXMin && c.ADXNoTradeFloor <= c.ShortADXMin,
			"adx_no_trade_floor %.1f must not exceed either directional minimum", c.ADXNoTradeFloor),
		check(c.LongVolumeMultiplier > 0, "long_volume_multiplier must be positive"),
		check(c.ShortVolumeMultiplier > 0, "short_volume_multiplier must be positive"),
		check(c.SLATRMultiplier > 0, "sl_atr_multiplier must be positive"),
		check(c.TPATRMultiplier > 0, "tp_atr_multiplier must be positive"),
		check(c.TPATRMultiplier > c.SLATRMultiplier,
			"tp_atr_multiplier %.2f must exceed sl_atr_multiplier %.2f", c.TPATRMultiplier, c.SLATRMultiplier),
		check(c.MinConfidence >= 0 && c.MinConfidence <= 1, "min_confidence %.2f out of [0,1]", c.MinConfidence),
		check(c.MTFMinFactors >= 1 && c.MTFMinFactors <= 6, "mtf_min_factors %d out of [1,6]", c.MTFMinFactors),
		check(c.ConfidenceWeights.Sum() > 0, "confidence weights sum to zero"),
		check(len(c.Timeframes) > 0, "at least one timeframe required"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	for _, tf := range c.Timeframes {
		if _, err := exchange.ParseInterval(tf); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}
