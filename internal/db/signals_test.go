package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tfPriority(tf string) int {
	switch tf {
	case "1d":
		return 4
	case "4h":
		return 3
	case "1h":
		return 2
	case "15m":
		return 1
	}
	return 0
}

func newSignal(tf string) *Signal {
	return &Signal{
		Symbol:     "BTCUSDT",
		Timeframe:  tf,
		Direction:  "LONG",
		MarketType: "CRYPTO",
		Entry:      100, StopLoss: 97, TakeProfit: 105,
		Confidence:    0.7,
		ConfigVersion: 1,
	}
}

func TestUpsertSignalInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, timeframe FROM signals").
		WithArgs("BTCUSDT", "LONG").
		WillReturnRows(pgxmock.NewRows([]string{"id", "timeframe"}))
	mock.ExpectExec("INSERT INTO signals").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	database := NewWithPool(mock)
	action, err := database.UpsertSignal(context.Background(), newSignal("1h"), tfPriority)

	require.NoError(t, err)
	assert.Equal(t, SignalInserted, action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSignalDeduplicatedByHigherTimeframe(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, timeframe FROM signals").
		WithArgs("BTCUSDT", "LONG").
		WillReturnRows(pgxmock.NewRows([]string{"id", "timeframe"}).AddRow(existing, "4h"))
	mock.ExpectRollback()

	database := NewWithPool(mock)
	action, err := database.UpsertSignal(context.Background(), newSignal("1h"), tfPriority)

	require.NoError(t, err)
	assert.Equal(t, SignalDeduplicated, action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSignalUpgradesLowerTimeframe(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, timeframe FROM signals").
		WithArgs("BTCUSDT", "LONG").
		WillReturnRows(pgxmock.NewRows([]string{"id", "timeframe"}).AddRow(existing, "15m"))
	mock.ExpectExec("UPDATE signals SET status = 'EXPIRED'").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO signals").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	database := NewWithPool(mock)
	sig := newSignal("4h")
	action, err := database.UpsertSignal(context.Background(), sig, tfPriority)

	require.NoError(t, err)
	assert.Equal(t, SignalUpgraded, action)
	assert.Equal(t, SignalStatusActive, sig.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseSignalAlreadyClosed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE signals SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	database := NewWithPool(mock)
	err = database.CloseSignal(context.Background(), uuid.New(), SignalStatusHitTP, 105)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireSignalsBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE signals SET status = 'EXPIRED'").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	database := NewWithPool(mock)
	n, err := database.ExpireSignalsBefore(context.Background(), "15m", pgxmockNow())

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
