// Package papertrade simulates position management for emitted signals:
// every signal opens a fixed-notional paper position, and a monitor closes
// positions whose stop or target the market has crossed.
package papertrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse/tradepulse/internal/db"
)

// DefaultNotional is the quote-currency size of every simulated position
var DefaultNotional = decimal.NewFromInt(100)

// DefaultOwner tags positions opened automatically by the scanner
const DefaultOwner = "system"

// TradeStore is the persistence surface the engine needs
type TradeStore interface {
	InsertPaperTrade(ctx context.Context, t *db.PaperTrade) error
}

// Engine opens paper positions for signals
type Engine struct {
	store    TradeStore
	owner    string
	notional decimal.Decimal
}

// NewEngine creates an engine that sizes every position at the default
// notional under the default owner
func NewEngine(store TradeStore) *Engine {
	return &Engine{store: store, owner: DefaultOwner, notional: DefaultNotional}
}

// OpenForSignal opens one position mirroring the signal's geometry. A
// position already open for this signal is not an error; the scanner may
// rediscover a signal it has already traded.
func (e *Engine) OpenForSignal(ctx context.Context, sig *db.Signal) error {
	if sig.Entry <= 0 {
		return fmt.Errorf("signal %s has non-positive entry %.6g", sig.ID, sig.Entry)
	}

	entry := decimal.NewFromFloat(sig.Entry)
	trade := &db.PaperTrade{
		SignalID:   sig.ID,
		Owner:      e.owner,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: entry,
		StopLoss:   decimal.NewFromFloat(sig.StopLoss),
		TakeProfit: decimal.NewFromFloat(sig.TakeProfit),
		Notional:   e.notional,
		Quantity:   e.notional.Div(entry),
	}

	if err := e.store.InsertPaperTrade(ctx, trade); err != nil {
		if errors.Is(err, db.ErrDuplicateTrade) {
			log.Debug().
				Str("signal_id", sig.ID.String()).
				Str("symbol", sig.Symbol).
				Msg("Paper trade already open for signal")
			return nil
		}
		return fmt.Errorf("failed to open paper trade: %w", err)
	}

	log.Info().
		Str("trade_id", trade.ID.String()).
		Str("signal_id", sig.ID.String()).
		Str("symbol", sig.Symbol).
		Str("direction", sig.Direction).
		Str("quantity", trade.Quantity.String()).
		Msg("Paper trade opened")

	return nil
}
