package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const evalColumns = `id, kind, status, params, results, progress, error, heartbeat,
	retries, created_at, updated_at, total_trades, win_rate, profit_factor,
	roi_pct, max_drawdown_pct, sharpe`

// HeadlineMetrics are the denormalized columns copied out of a completed
// run's results for cheap list queries.
type HeadlineMetrics struct {
	TotalTrades  int
	WinRate      float64
	ProfitFactor float64
	ROIPct       float64
	MaxDrawdown  float64
	Sharpe       float64
}

// CreateEvaluationRun registers a new PENDING run and returns its id
func (db *DB) CreateEvaluationRun(ctx context.Context, kind string, params []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.pool.Exec(ctx, `
		INSERT INTO evaluation_runs (id, kind, status, params)
		VALUES ($1, $2, 'PENDING', $3)`,
		id, kind, params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create %s run: %w", kind, err)
	}
	return id, nil
}

// StartEvaluationRun moves a run to RUNNING and stamps its heartbeat
func (db *DB) StartEvaluationRun(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'RUNNING', heartbeat = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		id)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchEvaluationRun updates progress and heartbeat for a RUNNING run.
// ErrNotFound means the run is no longer RUNNING (cancelled or reaped);
// workers treat that as a stop signal.
func (db *DB) TouchEvaluationRun(ctx context.Context, id uuid.UUID, progress float64) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET progress = $1, heartbeat = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = 'RUNNING'`,
		progress, id)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelEvaluationRun marks a PENDING or RUNNING run CANCELLED. A running
// worker notices at its next progress heartbeat and abandons the run.
func (db *DB) CancelEvaluationRun(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')`,
		id)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteEvaluationRun stores results and denormalized headline metrics
func (db *DB) CompleteEvaluationRun(ctx context.Context, id uuid.UUID, results []byte, headline *HeadlineMetrics) error {
	var args []any
	query := `
		UPDATE evaluation_runs
		SET status = 'COMPLETED', results = $1, progress = 1, updated_at = NOW()`
	args = append(args, results)

	if headline != nil {
		query += `, total_trades = $2, win_rate = $3, profit_factor = $4,
			roi_pct = $5, max_drawdown_pct = $6, sharpe = $7
		WHERE id = $8 AND status = 'RUNNING'`
		args = append(args, headline.TotalTrades, headline.WinRate, headline.ProfitFactor,
			headline.ROIPct, headline.MaxDrawdown, headline.Sharpe, id)
	} else {
		query += ` WHERE id = $2 AND status = 'RUNNING'`
		args = append(args, id)
	}

	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailEvaluationRun finalizes a run with an error message
func (db *DB) FailEvaluationRun(ctx context.Context, id uuid.UUID, message string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'FAILED', error = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('PENDING', 'RUNNING')`,
		message, id)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// GetEvaluationRun fetches one run by id
func (db *DB) GetEvaluationRun(ctx context.Context, id uuid.UUID) (*EvaluationRun, error) {
	row := db.pool.QueryRow(ctx,
		"SELECT "+evalColumns+" FROM evaluation_runs WHERE id = $1", id)
	run, err := scanEvaluationRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListEvaluationRuns returns runs of one kind (or all kinds for ""), newest first
func (db *DB) ListEvaluationRuns(ctx context.Context, kind string, limit int) ([]EvaluationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT `+evalColumns+` FROM evaluation_runs
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC LIMIT $2`,
		kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation runs: %w", err)
	}
	defer rows.Close()

	var runs []EvaluationRun
	for rows.Next() {
		run, err := scanEvaluationRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// StaleRun is a run the watchdog reclaimed for redelivery
type StaleRun struct {
	ID      uuid.UUID
	Kind    string
	Params  []byte
	Retries int
}

// ReclaimStaleRuns sweeps RUNNING runs whose heartbeat predates the cutoff:
// runs under the retry bound return to PENDING with retries bumped and are
// returned for re-enqueue; runs at the bound are FAILED with a diagnostic.
func (db *DB) ReclaimStaleRuns(ctx context.Context, staleAfter time.Duration, maxRetries int) ([]StaleRun, int64, error) {
	cutoff := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin stale-run sweep: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE evaluation_runs
		SET status = 'PENDING', retries = retries + 1, progress = 0,
			error = 'worker heartbeat lost, requeued', updated_at = NOW()
		WHERE status = 'RUNNING' AND heartbeat < NOW() - $1::interval
			AND retries < $2
		RETURNING id, kind, params, retries`,
		cutoff, maxRetries)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to requeue stale runs: %w", err)
	}
	var requeued []StaleRun
	for rows.Next() {
		var r StaleRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.Params, &r.Retries); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan stale run: %w", err)
		}
		requeued = append(requeued, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read stale runs: %w", err)
	}

	// whatever is still stale and RUNNING has exhausted its retry bound
	tag, err := tx.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'FAILED', error = 'worker heartbeat lost, retry bound exhausted',
			updated_at = NOW()
		WHERE status = 'RUNNING' AND heartbeat < NOW() - $1::interval`,
		cutoff)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fail stale runs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("failed to commit stale-run sweep: %w", err)
	}
	return requeued, tag.RowsAffected(), nil
}

func scanEvaluationRun(row pgx.Row) (*EvaluationRun, error) {
	var r EvaluationRun
	err := row.Scan(&r.ID, &r.Kind, &r.Status, &r.Params, &r.Results, &r.Progress,
		&r.Error, &r.Heartbeat, &r.Retries, &r.CreatedAt, &r.UpdatedAt,
		&r.TotalTrades, &r.WinRate, &r.ProfitFactor, &r.ROIPct,
		&r.MaxDrawdown, &r.Sharpe)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
