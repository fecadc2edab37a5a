package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/pkg/backtest"
)

type fakeStore struct {
	mu       sync.Mutex
	counter  int
	resets   int
	runs     []*db.OptimizationRun
	archived []market.SignalConfig
}

func (s *fakeStore) GetTradeCounter(ctx context.Context, marketType string) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter, time.Time{}, nil
}

func (s *fakeStore) ResetTradeCounter(ctx context.Context, marketType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *fakeStore) InsertOptimizationRun(ctx context.Context, run *db.OptimizationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) ArchiveCandidateConfig(ctx context.Context, cfg market.SignalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, cfg)
	return nil
}

func (s *fakeStore) lastRun(t *testing.T) *db.OptimizationRun {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.runs)
	return s.runs[len(s.runs)-1]
}

func testEngine(store *fakeStore) (*Engine, *market.Registry) {
	registry := market.NewRegistry(nil)
	cfg := DefaultConfig([]string{"BTCUSDT"})
	e := NewEngine(cfg, registry, store, nil)
	return e, registry
}

func TestCandidatesAreValidPerturbations(t *testing.T) {
	base := market.DefaultSignalConfig(market.MarketCrypto)
	challengers := candidates(base)

	require.Len(t, challengers, 8)
	for _, c := range challengers {
		assert.NoError(t, c.Validate())
		assert.NotEqual(t, base, c, "each challenger moves at least one dial")
	}
}

func TestFitnessComposite(t *testing.T) {
	m := backtest.Metrics{
		WinRate:        60,
		ProfitFactor:   2,
		Sharpe:         1.5,
		ROIPct:         20,
		MaxDrawdownPct: 10,
	}
	// 0.30*60 + 0.25*2*20 + 0.20*1.5*33.3 + 0.15*20 - 0.10*10
	assert.InDelta(t, 39.99, fitness(m), 1e-9)
}

func TestFitnessCapsOutliers(t *testing.T) {
	m := backtest.Metrics{ProfitFactor: 50, Sharpe: 20, ROIPct: 5000}
	capped := backtest.Metrics{ProfitFactor: 5, Sharpe: 3, ROIPct: 100}
	assert.Equal(t, fitness(capped), fitness(m))
}

func TestImprovementPct(t *testing.T) {
	assert.InDelta(t, 20, improvementPct(10, 12), 1e-9)
	assert.InDelta(t, 50, improvementPct(-10, -5), 1e-9)
	assert.InDelta(t, 100, improvementPct(0, 2), 1e-9)
	assert.InDelta(t, 0, improvementPct(0, -2), 1e-9)
}

func TestRunCyclePromotesClearImprovement(t *testing.T) {
	store := &fakeStore{}
	e, registry := testEngine(store)
	e.run = func(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
		// the raised-ADX challenger doubles the win rate
		if cfg.LongADXMin == 22 {
			return backtest.Metrics{WinRate: 100}, nil
		}
		return backtest.Metrics{WinRate: 50}, nil
	}

	result, err := e.RunCycle(context.Background(), market.MarketCrypto, TriggerManual)
	require.NoError(t, err)

	assert.True(t, result.ImprovementFound)
	assert.True(t, result.Promoted)
	assert.InDelta(t, 100, result.ImprovementPct, 1e-9)
	assert.Equal(t, 2, result.PromotedVersion)

	active := registry.Get(market.MarketCrypto)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 22.0, active.LongADXMin)
	assert.Equal(t, 22.0, active.ShortADXMin)
	assert.Empty(t, store.archived, "promoted cycles leave no archived candidate")
	assert.Equal(t, 1, store.resets)

	run := store.lastRun(t)
	assert.True(t, run.Promoted)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.Equal(t, 8, run.CandidatesTested)
}

func TestRunCycleKeepsBaselineOnSmallImprovement(t *testing.T) {
	store := &fakeStore{}
	e, registry := testEngine(store)
	e.run = func(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
		if cfg.LongADXMin == 22 {
			return backtest.Metrics{WinRate: 51.5}, nil // 3% better, below the bar
		}
		return backtest.Metrics{WinRate: 50}, nil
	}

	result, err := e.RunCycle(context.Background(), market.MarketCrypto, TriggerScheduled)
	require.NoError(t, err)

	assert.False(t, result.ImprovementFound)
	assert.False(t, result.Promoted)
	assert.InDelta(t, 3, result.ImprovementPct, 1e-9)

	assert.Equal(t, 1, registry.Get(market.MarketCrypto).Version)
	assert.Equal(t, 0, store.resets)
	assert.False(t, store.lastRun(t).Promoted)

	// the losing best still lands in config history
	require.Len(t, store.archived, 1)
	assert.Equal(t, 22.0, store.archived[0].LongADXMin)
	assert.Equal(t, 1, store.archived[0].Version, "candidate keeps the incumbent's version")
}

func TestRunCycleFlatMarketFindsNothing(t *testing.T) {
	store := &fakeStore{}
	e, registry := testEngine(store)
	e.run = func(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
		return backtest.Metrics{}, nil
	}

	result, err := e.RunCycle(context.Background(), market.MarketCrypto, TriggerTradeCount)
	require.NoError(t, err)

	assert.False(t, result.ImprovementFound)
	assert.False(t, result.Promoted)
	assert.Equal(t, 0.0, result.ImprovementPct)
	assert.Equal(t, 1, registry.Get(market.MarketCrypto).Version)
}

func TestRunCycleFailureLeavesActiveUntouched(t *testing.T) {
	store := &fakeStore{}
	e, registry := testEngine(store)
	e.run = func(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
		if cfg.LongADXMin == 22 {
			return backtest.Metrics{}, errors.New("venue unreachable")
		}
		return backtest.Metrics{WinRate: 50}, nil
	}

	_, err := e.RunCycle(context.Background(), market.MarketCrypto, TriggerManual)
	require.Error(t, err)

	assert.Equal(t, 1, registry.Get(market.MarketCrypto).Version)
	assert.Equal(t, 0, store.resets)
	assert.Empty(t, store.runs, "aborted cycles leave no audit row")
}

func TestRunCycleRejectsEmptyMarket(t *testing.T) {
	store := &fakeStore{}
	e, _ := testEngine(store)

	_, err := e.RunCycle(context.Background(), market.MarketForex, TriggerManual)
	assert.Error(t, err)
}

func TestRunCycleHonorsCandidateCap(t *testing.T) {
	store := &fakeStore{}
	registry := market.NewRegistry(nil)
	cfg := DefaultConfig([]string{"BTCUSDT"})
	cfg.MaxCandidates = 3
	e := NewEngine(cfg, registry, store, nil)
	e.run = func(ctx context.Context, symbols []string, cfg market.SignalConfig, start, end time.Time) (backtest.Metrics, error) {
		return backtest.Metrics{WinRate: 50}, nil
	}

	result, err := e.RunCycle(context.Background(), market.MarketCrypto, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CandidatesTested)
}

func TestWeeklyAnchor(t *testing.T) {
	// Wednesday 2026-01-07 12:00 UTC
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)

	// last Sunday 03:00 is 2026-01-04
	anchor := weeklyAnchor(now, time.Sunday, 3)
	assert.Equal(t, time.Date(2026, 1, 4, 3, 0, 0, 0, time.UTC), anchor)

	// same weekday, earlier hour: today
	anchor = weeklyAnchor(now, time.Wednesday, 3)
	assert.Equal(t, time.Date(2026, 1, 7, 3, 0, 0, 0, time.UTC), anchor)

	// same weekday, later hour: a week back
	anchor = weeklyAnchor(now, time.Wednesday, 15)
	assert.Equal(t, time.Date(2025, 12, 31, 15, 0, 0, 0, time.UTC), anchor)
}

func TestDueTriggerTradeCountWins(t *testing.T) {
	store := &fakeStore{counter: 200}
	e, _ := testEngine(store)
	e.lastScheduled[market.MarketCrypto] = e.now()
	e.lastDropCheck[market.MarketCrypto] = e.now()

	trigger, ok := e.dueTrigger(context.Background(), market.MarketCrypto)
	require.True(t, ok)
	assert.Equal(t, TriggerTradeCount, trigger)
}

func TestDueTriggerScheduledAfterInterval(t *testing.T) {
	store := &fakeStore{}
	e, _ := testEngine(store)
	past := time.Now().Add(-8 * 24 * time.Hour)
	e.lastScheduled[market.MarketCrypto] = past
	e.lastDropCheck[market.MarketCrypto] = time.Now()

	trigger, ok := e.dueTrigger(context.Background(), market.MarketCrypto)
	require.True(t, ok)
	assert.Equal(t, TriggerScheduled, trigger)

	// firing resets the clock
	_, ok = e.dueTrigger(context.Background(), market.MarketCrypto)
	assert.False(t, ok)
}

func TestSymbolsForFiltersByMarket(t *testing.T) {
	store := &fakeStore{}
	cfg := DefaultConfig([]string{"BTCUSDT", "ETHUSDT", "EURUSD", "XAUUSD"})
	e := NewEngine(cfg, market.NewRegistry(nil), store, nil)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, e.symbolsFor(market.MarketCrypto))
	assert.Equal(t, []string{"EURUSD"}, e.symbolsFor(market.MarketForex))
	assert.Equal(t, []string{"XAUUSD"}, e.symbolsFor(market.MarketCommodity))
}
