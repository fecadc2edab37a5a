package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradepulse/tradepulse/internal/market"
)

// SaveActiveConfig archives the current ACTIVE row for the market type and
// inserts the new configuration as ACTIVE, in one transaction. Implements
// market.ConfigStore.
func (db *DB) SaveActiveConfig(ctx context.Context, cfg market.SignalConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE signal_configs SET status = 'ARCHIVED', archived_at = NOW()
		WHERE market_type = $1 AND status = 'ACTIVE'`,
		string(cfg.MarketType)); err != nil {
		return fmt.Errorf("failed to archive previous config: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO signal_configs (id, market_type, version, payload, status)
		VALUES ($1, $2, $3, $4, 'ACTIVE')`,
		uuid.New(), string(cfg.MarketType), cfg.Version, payload); err != nil {
		return fmt.Errorf("failed to insert config version %d: %w", cfg.Version, err)
	}

	return tx.Commit(ctx)
}

// ArchiveCandidateConfig records a challenger that lost its optimization
// cycle. The row lands directly in ARCHIVED under the incumbent's version;
// the ACTIVE row is untouched.
func (db *DB) ArchiveCandidateConfig(ctx context.Context, cfg market.SignalConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate config: %w", err)
	}

	if _, err := db.pool.Exec(ctx, `
		INSERT INTO signal_configs (id, market_type, version, payload, status, archived_at)
		VALUES ($1, $2, $3, $4, 'ARCHIVED', NOW())`,
		uuid.New(), string(cfg.MarketType), cfg.Version, payload); err != nil {
		return fmt.Errorf("failed to archive candidate config: %w", err)
	}
	return nil
}

// LoadActiveConfigs returns the ACTIVE configuration per market type.
// Implements market.ConfigStore.
func (db *DB) LoadActiveConfigs(ctx context.Context) (map[market.MarketType]market.SignalConfig, error) {
	rows, err := db.pool.Query(ctx,
		"SELECT market_type, payload FROM signal_configs WHERE status = 'ACTIVE'")
	if err != nil {
		return nil, fmt.Errorf("failed to query active configs: %w", err)
	}
	defer rows.Close()

	out := make(map[market.MarketType]market.SignalConfig)
	for rows.Next() {
		var mt string
		var payload []byte
		if err := rows.Scan(&mt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		var cfg market.SignalConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config for %s: %w", mt, err)
		}
		out[market.MarketType(mt)] = cfg
	}
	return out, rows.Err()
}

// GetConfigRecord fetches one configuration version by id
func (db *DB) GetConfigRecord(ctx context.Context, id uuid.UUID) (*ConfigRecord, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, market_type, version, payload, status, activated_at, archived_at
		FROM signal_configs WHERE id = $1`, id)
	var r ConfigRecord
	err := row.Scan(&r.ID, &r.MarketType, &r.Version, &r.Payload,
		&r.Status, &r.ActivatedAt, &r.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config record: %w", err)
	}
	return &r, nil
}

// ListConfigHistory returns every configuration row for a market type,
// newest first. Archived candidates share the incumbent's version, so the
// order is chronological rather than by version.
func (db *DB) ListConfigHistory(ctx context.Context, marketType string, limit int) ([]ConfigRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, market_type, version, payload, status, activated_at, archived_at
		FROM signal_configs WHERE market_type = $1
		ORDER BY activated_at DESC, version DESC LIMIT $2`,
		marketType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query config history: %w", err)
	}
	defer rows.Close()

	var records []ConfigRecord
	for rows.Next() {
		var r ConfigRecord
		if err := rows.Scan(&r.ID, &r.MarketType, &r.Version, &r.Payload,
			&r.Status, &r.ActivatedAt, &r.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan config record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// IncrementTradeCounter bumps the closed-trade counter for a market type and
// returns the new count. The learning loop polls this against its threshold.
func (db *DB) IncrementTradeCounter(ctx context.Context, marketType string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `
		INSERT INTO trade_counters (market_type, closed_count)
		VALUES ($1, 1)
		ON CONFLICT (market_type)
		DO UPDATE SET closed_count = trade_counters.closed_count + 1
		RETURNING closed_count`,
		marketType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment trade counter: %w", err)
	}
	return count, nil
}

// ResetTradeCounter zeroes the counter after an optimization cycle
func (db *DB) ResetTradeCounter(ctx context.Context, marketType string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO trade_counters (market_type, closed_count, last_reset_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (market_type)
		DO UPDATE SET closed_count = 0, last_reset_at = NOW()`,
		marketType)
	if err != nil {
		return fmt.Errorf("failed to reset trade counter: %w", err)
	}
	return nil
}

// GetTradeCounter returns the current closed-trade count for a market type
func (db *DB) GetTradeCounter(ctx context.Context, marketType string) (int, time.Time, error) {
	var count int
	var resetAt time.Time
	err := db.pool.QueryRow(ctx,
		"SELECT closed_count, last_reset_at FROM trade_counters WHERE market_type = $1",
		marketType).Scan(&count, &resetAt)
	if err != nil {
		// no row yet means no closed trades since boot
		return 0, time.Time{}, nil
	}
	return count, resetAt, nil
}

// InsertOptimizationRun records the audit row for one learning cycle
func (db *DB) InsertOptimizationRun(ctx context.Context, run *OptimizationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO optimization_runs (id, market_type, trigger_reason, baseline_fitness,
			best_fitness, improvement_pct, improvement_found, candidates_tested, promoted, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.MarketType, run.Trigger, run.BaselineFitness, run.BestFitness,
		run.ImprovementPct, run.ImprovementFound, run.CandidatesTested, run.Promoted, run.Details)
	if err != nil {
		return fmt.Errorf("failed to insert optimization run: %w", err)
	}
	return nil
}

// ListOptimizationRuns returns a market's learning history, newest first
func (db *DB) ListOptimizationRuns(ctx context.Context, marketType string, limit int) ([]OptimizationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, market_type, trigger_reason, baseline_fitness, best_fitness,
			improvement_pct, improvement_found, candidates_tested, promoted, details, created_at
		FROM optimization_runs
		WHERE ($1 = '' OR market_type = $1)
		ORDER BY created_at DESC LIMIT $2`,
		marketType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query optimization runs: %w", err)
	}
	defer rows.Close()

	var runs []OptimizationRun
	for rows.Next() {
		var r OptimizationRun
		if err := rows.Scan(&r.ID, &r.MarketType, &r.Trigger, &r.BaselineFitness,
			&r.BestFitness, &r.ImprovementPct, &r.ImprovementFound,
			&r.CandidatesTested, &r.Promoted, &r.Details, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan optimization run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
