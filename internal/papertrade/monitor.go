package papertrade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse/tradepulse/internal/alerts"
	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/metrics"
	"github.com/tradepulse/tradepulse/internal/ws"
)

// DefaultCheckInterval is how often open positions are priced
const DefaultCheckInterval = 30 * time.Second

// MonitorStore is the persistence surface the monitor needs
type MonitorStore interface {
	ListOpenPaperTrades(ctx context.Context) ([]db.PaperTrade, error)
	ClosePaperTrade(ctx context.Context, id uuid.UUID, status string, exitPrice, pnl decimal.Decimal) error
	CloseSignal(ctx context.Context, id uuid.UUID, status string, exitPrice float64) error
	IncrementTradeCounter(ctx context.Context, marketType string) (int, error)
}

// PriceSource supplies current prices for a symbol set
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Monitor closes open paper trades whose stop or target has been crossed.
// Exits fill at the threshold price, like resting stop and limit orders
// would. When one price crosses both levels the stop wins.
type Monitor struct {
	store  MonitorStore
	prices PriceSource
	every  time.Duration

	hub    ws.Publisher
	alerts *alerts.Manager

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor over a store and a price source
func NewMonitor(store MonitorStore, prices PriceSource, every time.Duration) *Monitor {
	if every <= 0 {
		every = DefaultCheckInterval
	}
	return &Monitor{store: store, prices: prices, every: every}
}

// WithHub attaches an event sink for trade close broadcasts
func (m *Monitor) WithHub(hub ws.Publisher) *Monitor {
	m.hub = hub
	return m
}

// WithAlerts attaches an alert manager for trade close notifications
func (m *Monitor) WithAlerts(mgr *alerts.Manager) *Monitor {
	m.alerts = mgr
	return m
}

// Start launches the monitoring loop and returns immediately
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.CheckOnce(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Paper trade check failed")
				}
			}
		}
	}()

	log.Info().Dur("every", m.every).Msg("Paper trade monitor started")
}

// Stop cancels the loop and waits for the in-flight check to finish
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	log.Info().Msg("Paper trade monitor stopped")
}

// CheckOnce prices every open position and closes the ones whose stop or
// target the market has crossed. Per-trade failures are logged and the
// remaining trades still get checked.
func (m *Monitor) CheckOnce(ctx context.Context) error {
	trades, err := m.store.ListOpenPaperTrades(ctx)
	if err != nil {
		return err
	}
	metrics.OpenPaperTrades.Set(float64(len(trades)))
	if len(trades) == 0 {
		return nil
	}

	prices, err := m.prices.GetPrices(ctx, uniqueSymbols(trades))
	if err != nil {
		return err
	}

	for i := range trades {
		trade := &trades[i]
		price, ok := prices[trade.Symbol]
		if !ok {
			log.Warn().
				Str("symbol", trade.Symbol).
				Str("trade_id", trade.ID.String()).
				Msg("No price for open trade, skipping")
			continue
		}

		status, exit := exitFor(trade, decimal.NewFromFloat(price))
		if status == "" {
			continue
		}

		if err := m.closeTrade(ctx, trade, status, exit); err != nil {
			log.Error().
				Err(err).
				Str("trade_id", trade.ID.String()).
				Msg("Failed to close paper trade")
		}
	}

	return nil
}

// exitFor returns the close status and fill price for a trade at the given
// market price, or "" when neither level has been crossed. The stop is
// checked first so a bar that straddles both levels books the loss.
func exitFor(trade *db.PaperTrade, price decimal.Decimal) (string, decimal.Decimal) {
	if trade.Direction == "LONG" {
		if price.LessThanOrEqual(trade.StopLoss) {
			return db.TradeStatusClosedSL, trade.StopLoss
		}
		if price.GreaterThanOrEqual(trade.TakeProfit) {
			return db.TradeStatusClosedTP, trade.TakeProfit
		}
		return "", decimal.Zero
	}

	if price.GreaterThanOrEqual(trade.StopLoss) {
		return db.TradeStatusClosedSL, trade.StopLoss
	}
	if price.LessThanOrEqual(trade.TakeProfit) {
		return db.TradeStatusClosedTP, trade.TakeProfit
	}
	return "", decimal.Zero
}

// pnlFor computes realized P&L at the exit price
func pnlFor(trade *db.PaperTrade, exit decimal.Decimal) decimal.Decimal {
	pnl := exit.Sub(trade.EntryPrice).Mul(trade.Quantity)
	if trade.Direction == "SHORT" {
		pnl = pnl.Neg()
	}
	return pnl
}

func (m *Monitor) closeTrade(ctx context.Context, trade *db.PaperTrade, status string, exit decimal.Decimal) error {
	pnl := pnlFor(trade, exit)

	if err := m.store.ClosePaperTrade(ctx, trade.ID, status, exit, pnl); err != nil {
		return err
	}

	signalStatus := db.SignalStatusHitSL
	if status == db.TradeStatusClosedTP {
		signalStatus = db.SignalStatusHitTP
	}
	exitF, _ := exit.Float64()
	if err := m.store.CloseSignal(ctx, trade.SignalID, signalStatus, exitF); err != nil {
		log.Error().
			Err(err).
			Str("signal_id", trade.SignalID.String()).
			Msg("Failed to close signal for closed trade")
	}

	marketType := string(market.Classify(trade.Symbol))
	if _, err := m.store.IncrementTradeCounter(ctx, marketType); err != nil {
		log.Error().
			Err(err).
			Str("market_type", marketType).
			Msg("Failed to bump trade counter")
	}

	metrics.PaperTradesClosed.WithLabelValues(status).Inc()
	pnlF, _ := pnl.Float64()
	metrics.RealizedPnL.Add(pnlF)

	if m.hub != nil {
		m.hub.Publish(ws.EventPaperTradeClosed, map[string]interface{}{
			"trade_id":   trade.ID,
			"signal_id":  trade.SignalID,
			"symbol":     trade.Symbol,
			"direction":  trade.Direction,
			"status":     status,
			"exit_price": exit,
			"pnl":        pnl,
		})
		m.hub.Publish(ws.EventSignalClosed, map[string]interface{}{
			"signal_id":  trade.SignalID,
			"symbol":     trade.Symbol,
			"status":     signalStatus,
			"exit_price": exitF,
		})
	}
	if m.alerts != nil {
		entryF, _ := trade.EntryPrice.Float64()
		m.alerts.TradeClosed(ctx, trade.Symbol, trade.Direction, status, entryF, exitF, pnlF)
	}

	log.Info().
		Str("trade_id", trade.ID.String()).
		Str("symbol", trade.Symbol).
		Str("status", status).
		Str("pnl", pnl.String()).
		Msg("Paper trade closed")

	return nil
}

func uniqueSymbols(trades []db.PaperTrade) []string {
	seen := make(map[string]struct{}, len(trades))
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t.Symbol)
	}
	return out
}
