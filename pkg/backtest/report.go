package backtest

import (
	"fmt"
	"strings"
	"time"
)

// GenerateReport renders a plain-text performance report for the CLI
func GenerateReport(result *Result) string {
	m := result.Metrics
	var b strings.Builder

	rule := strings.Repeat("=", 72)
	fmt.Fprintf(&b, "%s\nBACKTEST REPORT\n%s\n\n", rule, rule)

	fmt.Fprintf(&b, "Symbols:          %s\n", strings.Join(result.Config.Symbols, ", "))
	fmt.Fprintf(&b, "Timeframe:        %s\n", result.Config.Timeframe)
	fmt.Fprintf(&b, "Period:           %s to %s\n",
		result.Config.Start.Format("2006-01-02"), result.Config.End.Format("2006-01-02"))
	fmt.Fprintf(&b, "Initial Capital:  $%.2f\n", m.InitialCapital)
	fmt.Fprintf(&b, "Final Equity:     $%.2f\n\n", m.FinalEquity)

	fmt.Fprintf(&b, "Net P&L:          $%.2f (%.2f%%)\n", m.NetPnL, m.ROIPct)
	fmt.Fprintf(&b, "Max Drawdown:     $%.2f (%.2f%%)\n", m.MaxDrawdown, m.MaxDrawdownPct)
	fmt.Fprintf(&b, "Sharpe:           %.2f\n\n", m.Sharpe)

	fmt.Fprintf(&b, "Trades:           %d (%d wins / %d losses, %.1f%% win rate)\n",
		m.TotalTrades, m.Wins, m.Losses, m.WinRate)
	fmt.Fprintf(&b, "Gross Profit:     $%.2f\n", m.GrossProfit)
	fmt.Fprintf(&b, "Gross Loss:       $%.2f\n", m.GrossLoss)
	fmt.Fprintf(&b, "Profit Factor:    %.2f\n", m.ProfitFactor)
	fmt.Fprintf(&b, "Avg Duration:     %s\n\n", formatDuration(m.AvgTradeDuration))

	if len(result.Trades) > 0 {
		fmt.Fprintf(&b, "%-10s %-6s %-12s %-12s %10s %10s %-12s\n",
			"SYMBOL", "SIDE", "ENTRY", "EXIT", "ENTRY PX", "PNL", "REASON")
		for _, t := range result.Trades {
			fmt.Fprintf(&b, "%-10s %-6s %-12s %-12s %10.4f %10.2f %-12s\n",
				t.Symbol, t.Direction,
				t.EntryTime.Format("2006-01-02"), t.ExitTime.Format("2006-01-02"),
				t.Entry, t.PnL, t.ExitReason)
		}
	}

	b.WriteString(rule + "\n")
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
