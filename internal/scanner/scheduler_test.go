package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/exchange"
)

type fakeExpirer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeExpirer) ExpireSignalsBefore(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, timeframe)
	return 1, nil
}

func TestRunCycleScansAndExpires(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval1d, trendingCandles(60, exchange.Interval1d))

	store := &fakeSignalStore{}
	s := setupScanner(t, venue, store, "BTCUSDT")

	expirer := &fakeExpirer{}
	sched := NewScheduler(s, expirer)

	sched.runCycle(context.Background(), exchange.Interval1d)

	assert.Len(t, store.signals, 1)
	require.Len(t, expirer.calls, 1)
	assert.Equal(t, "1d", expirer.calls[0])
}

func TestRunCycleDropsOverlappingCycle(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval1d, trendingCandles(60, exchange.Interval1d))

	store := &fakeSignalStore{}
	s := setupScanner(t, venue, store, "BTCUSDT")
	sched := NewScheduler(s, nil)

	// simulate a cycle still in flight
	sched.running[exchange.Interval1d].Store(true)
	sched.runCycle(context.Background(), exchange.Interval1d)
	assert.Empty(t, store.signals, "overlapping cycle is dropped, not queued")

	sched.running[exchange.Interval1d].Store(false)
	sched.runCycle(context.Background(), exchange.Interval1d)
	assert.Len(t, store.signals, 1)
}

func TestSchedulerStartStop(t *testing.T) {
	venue := exchange.NewMockVenue()
	venue.SetCandles("BTCUSDT", exchange.Interval1d, trendingCandles(60, exchange.Interval1d))

	store := &fakeSignalStore{}
	s := setupScanner(t, venue, store, "BTCUSDT")

	expirer := &fakeExpirer{}
	sched := NewScheduler(s, expirer)
	sched.Start(context.Background())
	defer sched.Stop()

	// every timeframe runs its first cycle immediately
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		expirer.mu.Lock()
		n := len(expirer.calls)
		expirer.mu.Unlock()
		if n >= len(scanEvery) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("not every timeframe completed its first cycle")
}
