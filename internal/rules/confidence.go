package rules

import (
	"github.com/tradepulse/tradepulse/internal/indicators"
	"github.com/tradepulse/tradepulse/internal/market"
)

// Confidence computes the weighted composite score in [0,1]. Each factor is
// normalized to [0,1] and combined with the configured weights; the weights
// themselves are tunable so the learning loop can reshape the composite
// without a code change.
func Confidence(snap indicators.Snapshot, direction Direction, cfg market.SignalConfig) float64 {
	w := cfg.ConfidenceWeights
	total := w.Sum()
	if total <= 0 {
		return 0
	}

	sum := w.RSIDepth*rsiDepth(snap.RSI, direction, cfg) +
		w.ADXStrength*adxStrength(snap.ADX, adxMinFor(direction, cfg)) +
		w.VolumeRatio*volumeRatio(snap) +
		w.TrendAlign*float64(AgreementScore(snap, direction))/6.0 +
		w.MACDMomentum*macdMomentum(snap.MACDHist, direction)

	return clamp01(sum / total)
}

// rsiDepth rewards deeper penetration into the entry window: an RSI at the
// far edge of the window (most oversold for longs, most overbought for
// shorts) scores 1.
func rsiDepth(rsi float64, direction Direction, cfg market.SignalConfig) float64 {
	if direction == DirectionLong {
		span := cfg.LongRSIMax - cfg.LongRSIMin
		if span <= 0 {
			return 0
		}
		return clamp01((cfg.LongRSIMax - rsi) / span)
	}
	span := cfg.ShortRSIMax - cfg.ShortRSIMin
	if span <= 0 {
		return 0
	}
	return clamp01((rsi - cfg.ShortRSIMin) / span)
}

// adxStrength maps ADX linearly from the gate threshold to 50, the point
// past which a trend is conventionally read as very strong.
func adxStrength(adx, minADX float64) float64 {
	if minADX >= 50 {
		return clamp01(adx / 100)
	}
	return clamp01((adx - minADX) / (50 - minADX))
}

// volumeRatio scores 0 at the SMA20 baseline and 1 at double it. A series
// without volume history reads neutral.
func volumeRatio(snap indicators.Snapshot) float64 {
	if snap.VolumeSMA20 <= 0 {
		return 0.5
	}
	return clamp01(snap.Volume/snap.VolumeSMA20 - 1)
}

func macdMomentum(hist float64, direction Direction) float64 {
	if (direction == DirectionLong && hist > 0) || (direction == DirectionShort && hist < 0) {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
