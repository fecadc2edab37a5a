package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const tradeColumns = `id, signal_id, owner, symbol, direction, entry_price, stop_loss,
	take_profit, quantity, notional, status, exit_price, pnl, opened_at, closed_at`

// InsertPaperTrade opens a simulated position. A second trade for the same
// owner and signal returns ErrDuplicateTrade.
func (db *DB) InsertPaperTrade(ctx context.Context, t *PaperTrade) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	t.Status = TradeStatusOpen

	_, err := db.pool.Exec(ctx, `
		INSERT INTO paper_trades (id, signal_id, owner, symbol, direction, entry_price,
			stop_loss, take_profit, quantity, notional, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'OPEN', $11)`,
		t.ID, t.SignalID, t.Owner, t.Symbol, t.Direction, t.EntryPrice,
		t.StopLoss, t.TakeProfit, t.Quantity, t.Notional, t.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTrade
		}
		return fmt.Errorf("failed to insert paper trade: %w", err)
	}
	return nil
}

// GetPaperTrade fetches one trade by id
func (db *DB) GetPaperTrade(ctx context.Context, id uuid.UUID) (*PaperTrade, error) {
	row := db.pool.QueryRow(ctx,
		"SELECT "+tradeColumns+" FROM paper_trades WHERE id = $1", id)
	trade, err := scanPaperTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return trade, err
}

// ListOpenPaperTrades returns every OPEN trade across all owners
func (db *DB) ListOpenPaperTrades(ctx context.Context) ([]PaperTrade, error) {
	rows, err := db.pool.Query(ctx,
		"SELECT "+tradeColumns+" FROM paper_trades WHERE status = 'OPEN' ORDER BY opened_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()
	return scanPaperTrades(rows)
}

// ListPaperTrades returns an owner's trades, newest first
func (db *DB) ListPaperTrades(ctx context.Context, owner string, limit int) ([]PaperTrade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM paper_trades
		WHERE owner = $1 ORDER BY opened_at DESC LIMIT $2`,
		owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query paper trades: %w", err)
	}
	defer rows.Close()
	return scanPaperTrades(rows)
}

// ClosePaperTrade finalizes an OPEN trade with its exit and realized P&L.
// Closing an already-closed trade returns ErrNotFound; the monitor may race
// with a manual close.
func (db *DB) ClosePaperTrade(ctx context.Context, id uuid.UUID, status string, exitPrice, pnl decimal.Decimal) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE paper_trades SET status = $1, exit_price = $2, pnl = $3, closed_at = NOW()
		WHERE id = $4 AND status = 'OPEN'`,
		status, exitPrice, pnl, id)
	if err != nil {
		return fmt.Errorf("failed to close paper trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAccountSummary derives account state from the trade ledger. There is no
// separate balance row to drift out of sync; the ledger is the truth.
func (db *DB) GetAccountSummary(ctx context.Context, owner string) (*AccountSummary, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'OPEN'),
			COUNT(*),
			COUNT(*) FILTER (WHERE status != 'OPEN' AND pnl > 0),
			COUNT(*) FILTER (WHERE status != 'OPEN' AND pnl <= 0),
			COALESCE(SUM(pnl) FILTER (WHERE status != 'OPEN'), 0)
		FROM paper_trades WHERE owner = $1`,
		owner)

	summary := AccountSummary{Owner: owner}
	if err := row.Scan(&summary.OpenTrades, &summary.TotalTrades,
		&summary.Wins, &summary.Losses, &summary.RealizedPnL); err != nil {
		return nil, fmt.Errorf("failed to compute account summary: %w", err)
	}

	if closed := summary.Wins + summary.Losses; closed > 0 {
		summary.WinRate = float64(summary.Wins) / float64(closed)
	}
	return &summary, nil
}

func scanPaperTrade(row pgx.Row) (*PaperTrade, error) {
	var t PaperTrade
	err := row.Scan(&t.ID, &t.SignalID, &t.Owner, &t.Symbol, &t.Direction,
		&t.EntryPrice, &t.StopLoss, &t.TakeProfit, &t.Quantity, &t.Notional,
		&t.Status, &t.ExitPrice, &t.PnL, &t.OpenedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanPaperTrades(rows pgx.Rows) ([]PaperTrade, error) {
	var trades []PaperTrade
	for rows.Next() {
		t, err := scanPaperTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}
