package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/trend"
)

// All series functions are pure: they never mutate their input and return a
// slice aligned index-for-index with it. Warm-up positions, where the
// indicator is not yet defined, hold NaN.

// Default indicator periods
const (
	RSIPeriod  = 14
	ATRPeriod  = 14
	ADXPeriod  = 14
	EMAFast    = 9
	EMAMid     = 20
	EMASlow    = 50
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
	VolumeSMA  = 20
)

// RSI computes the Wilder Relative Strength Index. Defined from index
// `period` onward. A flat series yields 50; an all-gain series yields 100.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period < 1 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}

	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA computes an exponential moving average seeded with the simple average
// of the first `period` values. Defined from index period-1 onward.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}

	return out
}

// SMA computes a simple moving average. Defined from index period-1 onward.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) < period {
		return out
	}

	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	sma := trend.NewSmaWithPeriod[float64](period)
	i := period - 1
	for v := range sma.Compute(in) {
		if i >= len(out) {
			break
		}
		out[i] = v
		i++
	}

	return out
}

// MACD computes the MACD line, its signal line and the histogram. The MACD
// line is defined from index slow-1; the signal and histogram from index
// slow+signalPeriod-2.
func MACD(closes []float64, fast, slow, signalPeriod int) (macd, signal, hist []float64) {
	n := len(closes)
	macd = nanSlice(n)
	signal = nanSlice(n)
	hist = nanSlice(n)
	if slow < 1 || n < slow {
		return macd, signal, hist
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := slow - 1; i < n; i++ {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	defined := macd[slow-1:]
	signalDefined := EMA(defined, signalPeriod)
	for i, v := range signalDefined {
		idx := slow - 1 + i
		signal[idx] = v
		if !math.IsNaN(v) {
			hist[idx] = macd[idx] - v
		}
	}

	return macd, signal, hist
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
