package papertrade

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/db"
)

type fakeTradeStore struct {
	trades []*db.PaperTrade
	err    error
}

func (f *fakeTradeStore) InsertPaperTrade(ctx context.Context, t *db.PaperTrade) error {
	if f.err != nil {
		return f.err
	}
	f.trades = append(f.trades, t)
	return nil
}

func TestOpenForSignalSizesPosition(t *testing.T) {
	store := &fakeTradeStore{}
	engine := NewEngine(store)

	sig := &db.Signal{
		ID:         uuid.New(),
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		Entry:      50,
		StopLoss:   47.5,
		TakeProfit: 55,
	}
	require.NoError(t, engine.OpenForSignal(context.Background(), sig))

	require.Len(t, store.trades, 1)
	trade := store.trades[0]
	assert.Equal(t, sig.ID, trade.SignalID)
	assert.Equal(t, DefaultOwner, trade.Owner)
	assert.True(t, trade.Notional.Equal(decimal.NewFromInt(100)))
	// 100 notional at entry 50
	assert.True(t, trade.Quantity.Equal(decimal.NewFromInt(2)), "got %s", trade.Quantity)
}

func TestOpenForSignalToleratesDuplicate(t *testing.T) {
	store := &fakeTradeStore{err: db.ErrDuplicateTrade}
	engine := NewEngine(store)

	sig := &db.Signal{ID: uuid.New(), Symbol: "BTCUSDT", Direction: "LONG", Entry: 50}
	assert.NoError(t, engine.OpenForSignal(context.Background(), sig))
}

func TestOpenForSignalRejectsBadEntry(t *testing.T) {
	engine := NewEngine(&fakeTradeStore{})
	sig := &db.Signal{ID: uuid.New(), Symbol: "BTCUSDT", Direction: "LONG", Entry: 0}
	assert.Error(t, engine.OpenForSignal(context.Background(), sig))
}
