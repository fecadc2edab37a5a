package learning

import (
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/pkg/backtest"
)

// Fitness weights. Profit factor and Sharpe are capped before scaling so a
// handful of lucky trades cannot dominate the composite.
const (
	weightWinRate      = 0.30
	weightProfitFactor = 0.25
	weightSharpe       = 0.20
	weightROI          = 0.15
	weightDrawdown     = 0.10

	profitFactorCap = 5.0
	sharpeCap       = 3.0
	roiCap          = 100.0
)

// fitness scores a backtest on a roughly 0..100 scale. Higher is better;
// drawdown subtracts.
func fitness(m backtest.Metrics) float64 {
	pf := m.ProfitFactor
	if pf > profitFactorCap {
		pf = profitFactorCap
	}
	sharpe := m.Sharpe
	if sharpe > sharpeCap {
		sharpe = sharpeCap
	}
	roi := m.ROIPct
	if roi > roiCap {
		roi = roiCap
	}

	return weightWinRate*m.WinRate +
		weightProfitFactor*pf*20 +
		weightSharpe*sharpe*33.3 +
		weightROI*roi -
		weightDrawdown*m.MaxDrawdownPct
}

// candidates derives up to eight single-axis perturbations of the baseline.
// Each moves one dial a small step in one direction and is clamped so it
// still passes validation.
func candidates(base market.SignalConfig) []market.SignalConfig {
	out := make([]market.SignalConfig, 0, 8)

	add := func(mutate func(*market.SignalConfig)) {
		c := base
		mutate(&c)
		if c.Validate() == nil {
			out = append(out, c)
		}
	}

	add(func(c *market.SignalConfig) {
		c.LongRSIMin = clampRSI(c.LongRSIMin - 5)
		c.LongRSIMax = clampRSI(c.LongRSIMax - 5)
		c.ShortRSIMin = clampRSI(c.ShortRSIMin - 5)
		c.ShortRSIMax = clampRSI(c.ShortRSIMax - 5)
	})
	add(func(c *market.SignalConfig) {
		c.LongRSIMin = clampRSI(c.LongRSIMin + 5)
		c.LongRSIMax = clampRSI(c.LongRSIMax + 5)
		c.ShortRSIMin = clampRSI(c.ShortRSIMin + 5)
		c.ShortRSIMax = clampRSI(c.ShortRSIMax + 5)
	})
	add(func(c *market.SignalConfig) {
		c.LongADXMin = clampPositive(c.LongADXMin - 2)
		c.ShortADXMin = clampPositive(c.ShortADXMin - 2)
	})
	add(func(c *market.SignalConfig) {
		c.LongADXMin = c.LongADXMin + 2
		c.ShortADXMin = c.ShortADXMin + 2
	})
	add(func(c *market.SignalConfig) {
		c.SLATRMultiplier = clampMultiplier(c.SLATRMultiplier - 0.2)
	})
	add(func(c *market.SignalConfig) {
		c.SLATRMultiplier = c.SLATRMultiplier + 0.2
	})
	add(func(c *market.SignalConfig) {
		c.TPATRMultiplier = clampMultiplier(c.TPATRMultiplier - 0.3)
	})
	add(func(c *market.SignalConfig) {
		c.TPATRMultiplier = c.TPATRMultiplier + 0.3
	})

	return out
}

func clampRSI(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampPositive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampMultiplier(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	return v
}
