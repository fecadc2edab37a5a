package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/metrics"
	"github.com/tradepulse/tradepulse/internal/queue"
	"github.com/tradepulse/tradepulse/pkg/backtest"
	"github.com/tradepulse/tradepulse/pkg/mltune"
	"github.com/tradepulse/tradepulse/pkg/montecarlo"
	"github.com/tradepulse/tradepulse/pkg/walkforward"
)

// taskKinds maps a run kind onto its queue subject suffix
var taskKinds = map[string]string{
	db.RunKindBacktest:    queue.TaskBacktest,
	db.RunKindWalkForward: queue.TaskWalkForward,
	db.RunKindMonteCarlo:  queue.TaskMonteCarlo,
	db.RunKindMLTuning:    queue.TaskMLTuning,
}

// runner executes evaluation tasks against the run lifecycle: claim the
// run, heartbeat progress while the engine works, then complete or fail it.
type runner struct {
	store  *db.DB
	source exchange.CandleSource

	// expiry rejects tasks that sat queued longer than this; 0 accepts all
	expiry time.Duration

	// heartbeat forces a progress write when the last one is older than
	// this, even if the work-based throttle would skip it
	heartbeat time.Duration
}

func (r *runner) handle() queue.TaskHandler {
	return func(ctx context.Context, task *queue.Task) error {
		started := time.Now()

		if r.expiry > 0 && started.Sub(task.Timestamp) > r.expiry {
			metrics.TasksProcessed.WithLabelValues(task.Kind, "expired").Inc()
			log.Warn().
				Str("kind", task.Kind).
				Stringer("run_id", task.RunID).
				Time("enqueued_at", task.Timestamp).
				Msg("Dropping expired task")
			if err := r.store.FailEvaluationRun(ctx, task.RunID, "task expired before a worker picked it up"); err != nil {
				log.Error().Err(err).Stringer("run_id", task.RunID).Msg("Failed to mark expired run failed")
			}
			return nil
		}

		if err := r.store.StartEvaluationRun(ctx, task.RunID); err != nil {
			return fmt.Errorf("failed to claim run: %w", err)
		}

		// heartbeats double as the cancellation channel: when the run row
		// leaves RUNNING (API cancel, watchdog reap) the next Touch fails
		// and the engine's context is cancelled
		runCtx, cancelRun := context.WithCancel(ctx)
		defer cancelRun()

		onProgress := r.progress(task.RunID, cancelRun)
		results, headline, err := r.execute(runCtx, task, onProgress)
		if err != nil {
			if runCtx.Err() != nil && ctx.Err() == nil {
				metrics.TasksProcessed.WithLabelValues(task.Kind, "cancelled").Inc()
				log.Info().Str("kind", task.Kind).Stringer("run_id", task.RunID).Msg("Evaluation run cancelled")
				return nil
			}
			metrics.TasksProcessed.WithLabelValues(task.Kind, "failed").Inc()
			if failErr := r.store.FailEvaluationRun(ctx, task.RunID, err.Error()); failErr != nil {
				log.Error().Err(failErr).Stringer("run_id", task.RunID).Msg("Failed to mark run failed")
			}
			return err
		}

		if err := r.store.CompleteEvaluationRun(ctx, task.RunID, results, headline); err != nil {
			metrics.TasksProcessed.WithLabelValues(task.Kind, "failed").Inc()
			return fmt.Errorf("failed to complete run: %w", err)
		}

		metrics.TasksProcessed.WithLabelValues(task.Kind, "completed").Inc()
		log.Info().
			Str("kind", task.Kind).
			Stringer("run_id", task.RunID).
			Dur("elapsed", time.Since(started)).
			Msg("Evaluation run completed")
		return nil
	}
}

func (r *runner) execute(ctx context.Context, task *queue.Task, onProgress func(done, total int)) ([]byte, *db.HeadlineMetrics, error) {
	switch task.Kind {
	case queue.TaskBacktest:
		var cfg backtest.Config
		if err := json.Unmarshal(task.Payload, &cfg); err != nil {
			return nil, nil, fmt.Errorf("invalid backtest config: %w", err)
		}
		result, err := backtest.NewEngine(cfg).Run(ctx, r.source)
		if err != nil {
			return nil, nil, err
		}
		results, err := json.Marshal(result)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal results: %w", err)
		}
		m := result.Metrics
		return results, &db.HeadlineMetrics{
			TotalTrades:  m.TotalTrades,
			WinRate:      m.WinRate,
			ProfitFactor: m.ProfitFactor,
			ROIPct:       m.ROIPct,
			MaxDrawdown:  m.MaxDrawdownPct,
			Sharpe:       m.Sharpe,
		}, nil

	case queue.TaskWalkForward:
		var cfg walkforward.Config
		if err := json.Unmarshal(task.Payload, &cfg); err != nil {
			return nil, nil, fmt.Errorf("invalid walk-forward config: %w", err)
		}
		result, err := walkforward.Run(ctx, r.source, cfg, onProgress)
		if err != nil {
			return nil, nil, err
		}
		return marshalResults(result)

	case queue.TaskMonteCarlo:
		var cfg montecarlo.Config
		if err := json.Unmarshal(task.Payload, &cfg); err != nil {
			return nil, nil, fmt.Errorf("invalid monte carlo config: %w", err)
		}
		result, err := montecarlo.Run(ctx, r.source, cfg, onProgress)
		if err != nil {
			return nil, nil, err
		}
		return marshalResults(result)

	case queue.TaskMLTuning:
		var cfg mltune.Config
		if err := json.Unmarshal(task.Payload, &cfg); err != nil {
			return nil, nil, fmt.Errorf("invalid tuning config: %w", err)
		}
		result, err := mltune.Run(ctx, r.source, cfg, onProgress)
		if err != nil {
			return nil, nil, err
		}
		return marshalResults(result)
	}

	return nil, nil, fmt.Errorf("unknown task kind %q", task.Kind)
}

// progress returns an onProgress callback that heartbeats the run row,
// throttled to one write per ~5% of the work and never further apart than
// 50 units or r.heartbeat of wall time. A heartbeat that finds the row no
// longer RUNNING calls cancel.
func (r *runner) progress(runID uuid.UUID, cancel context.CancelFunc) func(done, total int) {
	var last int
	lastAt := time.Now()
	return func(done, total int) {
		if total <= 0 {
			return
		}
		step := (total + 19) / 20
		if step > 50 {
			step = 50
		}
		stale := r.heartbeat > 0 && time.Since(lastAt) >= r.heartbeat
		if done != total && done-last < step && !stale {
			return
		}
		last = done
		lastAt = time.Now()

		err := r.store.TouchEvaluationRun(context.Background(), runID, float64(done)/float64(total))
		if errors.Is(err, db.ErrNotFound) {
			cancel()
			return
		}
		if err != nil {
			log.Warn().Err(err).Stringer("run_id", runID).Msg("Failed to heartbeat run")
		}
	}
}

func marshalResults(result interface{}) ([]byte, *db.HeadlineMetrics, error) {
	results, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return results, nil, nil
}
