package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pgxmockNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTrade() *PaperTrade {
	return &PaperTrade{
		SignalID:   uuid.New(),
		Owner:      "default",
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(97),
		TakeProfit: decimal.NewFromInt(105),
		Quantity:   decimal.NewFromInt(1),
		Notional:   decimal.NewFromInt(100),
	}
}

func TestInsertPaperTrade(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO paper_trades").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	database := NewWithPool(mock)
	trade := newTrade()
	require.NoError(t, database.InsertPaperTrade(context.Background(), trade))

	assert.NotEqual(t, uuid.Nil, trade.ID)
	assert.Equal(t, TradeStatusOpen, trade.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPaperTradeDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO paper_trades").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "paper_trades_owner_signal_unique"})

	database := NewWithPool(mock)
	err = database.InsertPaperTrade(context.Background(), newTrade())

	assert.ErrorIs(t, err, ErrDuplicateTrade)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosePaperTradeAlreadyClosed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE paper_trades SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	database := NewWithPool(mock)
	err = database.ClosePaperTrade(context.Background(), uuid.New(),
		TradeStatusClosedTP, decimal.NewFromInt(105), decimal.NewFromInt(5))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountSummary(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"open", "total", "wins", "losses", "pnl"}).
		AddRow(2, 12, 6, 4, decimal.RequireFromString("37.50"))
	mock.ExpectQuery("SELECT(.+)FROM paper_trades").
		WithArgs("default").
		WillReturnRows(rows)

	database := NewWithPool(mock)
	summary, err := database.GetAccountSummary(context.Background(), "default")

	require.NoError(t, err)
	assert.Equal(t, 2, summary.OpenTrades)
	assert.Equal(t, 12, summary.TotalTrades)
	assert.InDelta(t, 0.6, summary.WinRate, 1e-9)
	assert.True(t, summary.RealizedPnL.Equal(decimal.RequireFromString("37.50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementTradeCounter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO trade_counters").
		WithArgs("CRYPTO").
		WillReturnRows(pgxmock.NewRows([]string{"closed_count"}).AddRow(42))

	database := NewWithPool(mock)
	count, err := database.IncrementTradeCounter(context.Background(), "CRYPTO")

	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleRuns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE evaluation_runs").
		WithArgs("300 seconds", 3).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "params", "retries"}).
			AddRow(runID, RunKindBacktest, []byte(`{}`), 1))
	mock.ExpectExec("UPDATE evaluation_runs").
		WithArgs("300 seconds").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	database := NewWithPool(mock)
	requeued, failed, err := database.ReclaimStaleRuns(context.Background(), 5*time.Minute, 3)

	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, runID, requeued[0].ID)
	assert.Equal(t, RunKindBacktest, requeued[0].Kind)
	assert.Equal(t, 1, requeued[0].Retries)
	assert.Equal(t, int64(1), failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
