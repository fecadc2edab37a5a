package indicators

import (
	"math"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

// MinBars is the shortest series on which every indicator in a Snapshot is
// past its warm-up (EMA50 needs 50 bars, everything else less).
const MinBars = 50

// Snapshot holds every indicator evaluated at the most recent bar of a
// candle series. Ready is false until all fields are past warm-up.
type Snapshot struct {
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	RSI float64 `json:"rsi"`
	ATR float64 `json:"atr"`
	ADX float64 `json:"adx"`

	EMA9  float64 `json:"ema_9"`
	EMA20 float64 `json:"ema_20"`
	EMA50 float64 `json:"ema_50"`

	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`

	VolumeSMA20 float64 `json:"volume_sma_20"`

	Ready bool `json:"ready"`
}

// Compute evaluates the full indicator set at the last bar of the series.
// Series shorter than MinBars return a snapshot with Ready=false.
func Compute(candles []exchange.Candle) Snapshot {
	n := len(candles)
	if n == 0 {
		return Snapshot{}
	}

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	last := n - 1
	snap := Snapshot{
		Close:  closes[last],
		Volume: volumes[last],
	}
	if n < MinBars {
		return snap
	}

	snap.RSI = RSI(closes, RSIPeriod)[last]
	snap.ATR = ATR(candles, ATRPeriod)[last]
	snap.ADX = ADX(candles, ADXPeriod)[last]
	snap.EMA9 = EMA(closes, EMAFast)[last]
	snap.EMA20 = EMA(closes, EMAMid)[last]
	snap.EMA50 = EMA(closes, EMASlow)[last]

	macd, signal, hist := MACD(closes, MACDFast, MACDSlow, MACDSignal)
	snap.MACD = macd[last]
	snap.MACDSignal = signal[last]
	snap.MACDHist = hist[last]

	snap.VolumeSMA20 = SMA(volumes, VolumeSMA)[last]

	snap.Ready = !anyNaN(
		snap.RSI, snap.ATR, snap.ADX,
		snap.EMA9, snap.EMA20, snap.EMA50,
		snap.MACD, snap.MACDSignal, snap.MACDHist,
		snap.VolumeSMA20,
	)

	return snap
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
