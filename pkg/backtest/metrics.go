package backtest

import (
	"math"
	"time"
)

// Metrics summarizes a trade ledger and equity curve
type Metrics struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"` // percent

	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"` // negative
	ProfitFactor float64 `json:"profit_factor"`
	NetPnL       float64 `json:"net_pnl"`

	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	ROIPct         float64 `json:"roi_pct"`

	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`

	AvgTradeDuration time.Duration `json:"avg_trade_duration"`
}

// CalculateMetrics derives every headline number from the trade ledger and
// equity curve alone; nothing from the live system leaks in.
func CalculateMetrics(cfg Config, trades []Trade, curve []EquityPoint) Metrics {
	m := Metrics{
		TotalTrades:    len(trades),
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    cfg.InitialCapital,
	}

	var totalDuration time.Duration
	for _, t := range trades {
		m.NetPnL += t.PnL
		totalDuration += t.ExitTime.Sub(t.EntryTime)
		if t.PnL > 0 {
			m.Wins++
			m.GrossProfit += t.PnL
		} else {
			m.Losses++
			m.GrossLoss += t.PnL
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
		m.AvgTradeDuration = totalDuration / time.Duration(m.TotalTrades)
	}
	if m.GrossLoss != 0 {
		m.ProfitFactor = m.GrossProfit / math.Abs(m.GrossLoss)
	} else if m.GrossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
	}
	m.ROIPct = (m.FinalEquity - m.InitialCapital) / m.InitialCapital * 100

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(curve)
	m.Sharpe = sharpe(curve, cfg.Timeframe.BarsPerYear())

	return m
}

// maxDrawdown walks the curve tracking the running peak
func maxDrawdown(curve []EquityPoint) (abs, pct float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := peak - p.Equity
		if dd > abs {
			abs = dd
			if peak > 0 {
				pct = dd / peak * 100
			}
		}
	}
	return abs, pct
}

// sharpe annualizes the mean/stddev of per-bar simple returns
func sharpe(curve []EquityPoint, barsPerYear float64) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(returns)))
	if std == 0 {
		return 0
	}

	return mean / std * math.Sqrt(barsPerYear)
}
