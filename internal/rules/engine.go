package rules

import (
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/indicators"
	"github.com/tradepulse/tradepulse/internal/market"
)

// Direction is the side of a signal
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Candidate is a fully-formed signal proposal. Geometry always satisfies
// StopLoss < Entry < TakeProfit for LONG and the mirror for SHORT.
type Candidate struct {
	Symbol        string              `json:"symbol"`
	Timeframe     exchange.Interval   `json:"timeframe"`
	Direction     Direction           `json:"direction"`
	Entry         float64             `json:"entry"`
	StopLoss      float64             `json:"stop_loss"`
	TakeProfit    float64             `json:"take_profit"`
	Confidence    float64             `json:"confidence"`
	MarketType    market.MarketType   `json:"market_type"`
	ConfigVersion int                 `json:"config_version"`
	Snapshot      indicators.Snapshot `json:"snapshot"`
}

// Evaluate runs the rule chain for one symbol on one timeframe. The confirm
// snapshot comes from the next higher timeframe; nil skips the agreement
// check (the top timeframe has nothing above it). Returns nil and the name
// of the first failed gate when no signal qualifies.
func Evaluate(symbol string, tf exchange.Interval, snap indicators.Snapshot, confirm *indicators.Snapshot, cfg market.SignalConfig) (*Candidate, string) {
	if !snap.Ready {
		return nil, "warm_up"
	}

	if cfg.ADXNoTradeFloor > 0 && snap.ADX < cfg.ADXNoTradeFloor {
		return nil, "adx_no_trade_floor"
	}

	var direction Direction
	switch {
	case snap.RSI >= cfg.LongRSIMin && snap.RSI <= cfg.LongRSIMax:
		direction = DirectionLong
	case snap.RSI >= cfg.ShortRSIMin && snap.RSI <= cfg.ShortRSIMax:
		direction = DirectionShort
	default:
		return nil, "rsi_window"
	}

	if snap.ADX < adxMinFor(direction, cfg) {
		return nil, "adx_min"
	}

	if !volumeConfirmed(snap, volumeMultiplierFor(direction, cfg)) {
		return nil, "volume"
	}

	if confirm != nil && confirm.Ready {
		if AgreementScore(*confirm, direction) < cfg.MTFMinFactors {
			return nil, "timeframe_agreement"
		}
	}

	if snap.ATR <= 0 {
		return nil, "flat_range"
	}

	confidence := Confidence(snap, direction, cfg)
	if confidence < cfg.MinConfidence {
		return nil, "confidence"
	}

	entry := snap.Close
	var stopLoss, takeProfit float64
	if direction == DirectionLong {
		stopLoss = entry - cfg.SLATRMultiplier*snap.ATR
		takeProfit = entry + cfg.TPATRMultiplier*snap.ATR
	} else {
		stopLoss = entry + cfg.SLATRMultiplier*snap.ATR
		takeProfit = entry - cfg.TPATRMultiplier*snap.ATR
	}
	if stopLoss <= 0 || takeProfit <= 0 {
		return nil, "geometry"
	}

	return &Candidate{
		Symbol:        symbol,
		Timeframe:     tf,
		Direction:     direction,
		Entry:         entry,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		Confidence:    confidence,
		MarketType:    cfg.MarketType,
		ConfigVersion: cfg.Version,
		Snapshot:      snap,
	}, ""
}

// adxMinFor picks the directional trend-strength gate
func adxMinFor(direction Direction, cfg market.SignalConfig) float64 {
	if direction == DirectionShort {
		return cfg.ShortADXMin
	}
	return cfg.LongADXMin
}

// volumeMultiplierFor picks the directional volume confirmation multiple
func volumeMultiplierFor(direction Direction, cfg market.SignalConfig) float64 {
	if direction == DirectionShort {
		return cfg.ShortVolumeMultiplier
	}
	return cfg.LongVolumeMultiplier
}

// volumeConfirmed checks bar volume against the SMA20 multiple. Synthetic
// series with no volume history pass; there is nothing to confirm against.
func volumeConfirmed(snap indicators.Snapshot, multiplier float64) bool {
	if snap.VolumeSMA20 <= 0 {
		return true
	}
	return snap.Volume >= multiplier*snap.VolumeSMA20
}

// AgreementScore counts how many of the six alignment factors agree with
// the direction: EMA9 vs EMA20, EMA20 vs EMA50, MACD histogram sign,
// RSI vs 50, close vs EMA20, and volume vs its SMA20.
func AgreementScore(snap indicators.Snapshot, direction Direction) int {
	long := direction == DirectionLong
	score := 0

	if (long && snap.EMA9 > snap.EMA20) || (!long && snap.EMA9 < snap.EMA20) {
		score++
	}
	if (long && snap.EMA20 > snap.EMA50) || (!long && snap.EMA20 < snap.EMA50) {
		score++
	}
	if (long && snap.MACDHist > 0) || (!long && snap.MACDHist < 0) {
		score++
	}
	if (long && snap.RSI > 50) || (!long && snap.RSI < 50) {
		score++
	}
	if (long && snap.Close > snap.EMA20) || (!long && snap.Close < snap.EMA20) {
		score++
	}
	if snap.VolumeSMA20 > 0 && snap.Volume > snap.VolumeSMA20 {
		score++
	}

	return score
}
