package indicators

import (
	"math"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

// ATR computes the Average True Range with Wilder smoothing. Defined from
// index `period` onward. Zero-range bars contribute a true range of zero
// (against the previous close), so flat synthetic series stay at ATR 0.
func ATR(candles []exchange.Candle, period int) []float64 {
	n := len(candles)
	out := nanSlice(n)
	if period < 1 || n <= period {
		return out
	}

	tr := trueRanges(candles)

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / float64(period)

	for i := period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}

	return out
}

// ADX computes the Average Directional Index with Wilder smoothing.
// Defined from index 2*period onward; values are in [0, 100].
func ADX(candles []exchange.Candle, period int) []float64 {
	n := len(candles)
	out := nanSlice(n)
	if period < 1 || n <= 2*period {
		return out
	}

	tr := trueRanges(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	// Wilder-smoothed TR and DM, then DX per bar
	smTR := wilderSmooth(tr, period)
	smPlus := wilderSmooth(plusDM, period)
	smMinus := wilderSmooth(minusDM, period)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlus[i] / smTR[i]
		minusDI := 100 * smMinus[i] / smTR[i]
		if diSum := plusDI + minusDI; diSum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
		}
	}

	// ADX seeds with the average of the first period DX values, then
	// applies the Wilder recursion
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	out[2*period] = (sum + dx[2*period]) / float64(period+1)
	for i := 2*period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + dx[i]) / float64(period)
	}

	return out
}

func trueRanges(candles []exchange.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr[i] = math.Max(candles[i].High-candles[i].Low,
			math.Max(math.Abs(candles[i].High-prevClose),
				math.Abs(candles[i].Low-prevClose)))
	}
	return tr
}

// wilderSmooth seeds with a simple average over the first `period` samples
// starting at index 1 (index 0 has no TR/DM), then applies the recursion.
func wilderSmooth(data []float64, period int) []float64 {
	n := len(data)
	out := make([]float64, n)
	if n <= period {
		return out
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += data[i]
	}
	out[period] = sum / float64(period)

	for i := period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return out
}
