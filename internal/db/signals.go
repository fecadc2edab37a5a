package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// Dedup outcomes of UpsertSignal
const (
	SignalInserted     = "inserted"
	SignalDeduplicated = "deduplicated"
	SignalUpgraded     = "upgraded"
)

const signalColumns = `id, symbol, timeframe, direction, market_type, entry, stop_loss,
	take_profit, confidence, status, config_version, indicators, replaced_by,
	exit_price, created_at, closed_at`

// UpsertSignal applies the dedup-and-upgrade rule in one transaction.
// An existing ACTIVE signal for the same symbol and direction on an equal or
// higher-priority timeframe wins and the new candidate is dropped. A new
// candidate on a higher-priority timeframe replaces every lower one.
func (db *DB) UpsertSignal(ctx context.Context, sig *Signal, priority func(timeframe string) int) (string, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, timeframe FROM signals
		WHERE symbol = $1 AND direction = $2 AND status = 'ACTIVE'
		FOR UPDATE`,
		sig.Symbol, sig.Direction)
	if err != nil {
		return "", fmt.Errorf("failed to lock active signals: %w", err)
	}

	type activeRow struct {
		id        uuid.UUID
		timeframe string
	}
	var active []activeRow
	for rows.Next() {
		var r activeRow
		if err := rows.Scan(&r.id, &r.timeframe); err != nil {
			rows.Close()
			return "", fmt.Errorf("failed to scan active signal: %w", err)
		}
		active = append(active, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	newPriority := priority(sig.Timeframe)
	for _, a := range active {
		if priority(a.timeframe) >= newPriority {
			return SignalDeduplicated, nil
		}
	}

	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	// the displaced signal expires; replaced_by records what superseded it
	for _, a := range active {
		if _, err := tx.Exec(ctx, `
			UPDATE signals SET status = 'EXPIRED', replaced_by = $1, closed_at = NOW()
			WHERE id = $2`,
			sig.ID, a.id); err != nil {
			return "", fmt.Errorf("failed to replace signal %s: %w", a.id, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO signals (id, symbol, timeframe, direction, market_type, entry,
			stop_loss, take_profit, confidence, status, config_version, indicators, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'ACTIVE', $10, $11, $12)`,
		sig.ID, sig.Symbol, sig.Timeframe, sig.Direction, sig.MarketType, sig.Entry,
		sig.StopLoss, sig.TakeProfit, sig.Confidence, sig.ConfigVersion, sig.Indicators,
		sig.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			// concurrent scan won the race for this exact key
			return SignalDeduplicated, nil
		}
		return "", fmt.Errorf("failed to insert signal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit signal upsert: %w", err)
	}

	sig.Status = SignalStatusActive
	if len(active) > 0 {
		log.Info().
			Str("signal_id", sig.ID.String()).
			Str("symbol", sig.Symbol).
			Str("timeframe", sig.Timeframe).
			Int("replaced", len(active)).
			Msg("Signal upgraded over lower-timeframe duplicates")
		return SignalUpgraded, nil
	}
	return SignalInserted, nil
}

// GetSignal fetches one signal by id
func (db *DB) GetSignal(ctx context.Context, id uuid.UUID) (*Signal, error) {
	row := db.pool.QueryRow(ctx,
		"SELECT "+signalColumns+" FROM signals WHERE id = $1", id)
	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sig, err
}

// ListActiveSignals returns every ACTIVE signal, newest first
func (db *DB) ListActiveSignals(ctx context.Context) ([]Signal, error) {
	rows, err := db.pool.Query(ctx,
		"SELECT "+signalColumns+" FROM signals WHERE status = 'ACTIVE' ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query active signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ListSignals returns signals filtered by optional symbol and status
func (db *DB) ListSignals(ctx context.Context, symbol, status string, limit int) ([]Signal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE ($1 = '' OR symbol = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		symbol, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// CloseSignal finalizes a signal with its outcome status and exit price
func (db *DB) CloseSignal(ctx context.Context, id uuid.UUID, status string, exitPrice float64) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE signals SET status = $1, exit_price = $2, closed_at = NOW()
		WHERE id = $3 AND status = 'ACTIVE'`,
		status, exitPrice, id)
	if err != nil {
		return fmt.Errorf("failed to close signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireSignalsBefore marks ACTIVE signals created before the cutoff EXPIRED.
// Returns how many were expired.
func (db *DB) ExpireSignalsBefore(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE signals SET status = 'EXPIRED', closed_at = NOW()
		WHERE status = 'ACTIVE' AND timeframe = $1 AND created_at < $2`,
		timeframe, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSignal(row pgx.Row) (*Signal, error) {
	var s Signal
	err := row.Scan(&s.ID, &s.Symbol, &s.Timeframe, &s.Direction, &s.MarketType,
		&s.Entry, &s.StopLoss, &s.TakeProfit, &s.Confidence, &s.Status,
		&s.ConfigVersion, &s.Indicators, &s.ReplacedBy, &s.ExitPrice,
		&s.CreatedAt, &s.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSignals(rows pgx.Rows) ([]Signal, error) {
	var signals []Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}
