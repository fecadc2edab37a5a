package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/db"
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

// validateParams rejects obviously broken configurations before a worker
// ever sees them; deep validation stays in the analysis packages.
func validateParams(kind string, params []byte) error {
	switch kind {
	case db.RunKindBacktest:
		var cfg backtest.Config
		if err := json.Unmarshal(params, &cfg); err != nil {
			return err
		}
		if len(cfg.Symbols) == 0 {
			return fmt.Errorf("symbols required")
		}
		if !cfg.End.After(cfg.Start) {
			return fmt.Errorf("end must be after start")
		}
	case db.RunKindWalkForward:
		var cfg walkforward.Config
		if err := json.Unmarshal(params, &cfg); err != nil {
			return err
		}
		if len(cfg.Symbols) == 0 {
			return fmt.Errorf("symbols required")
		}
		if cfg.TrainWindow <= 0 || cfg.TestWindow <= 0 || cfg.Step <= 0 {
			return fmt.Errorf("train, test and step windows must be positive")
		}
	case db.RunKindMonteCarlo:
		var cfg montecarlo.Config
		if err := json.Unmarshal(params, &cfg); err != nil {
			return err
		}
		if cfg.Sims < montecarlo.MinSims || cfg.Sims > montecarlo.MaxSims {
			return fmt.Errorf("simulations must be in [%d, %d]", montecarlo.MinSims, montecarlo.MaxSims)
		}
		if len(cfg.Dists) == 0 {
			return fmt.Errorf("at least one parameter distribution required")
		}
	case db.RunKindMLTuning:
		var cfg mltune.Config
		if err := json.Unmarshal(params, &cfg); err != nil {
			return err
		}
		if cfg.Samples < mltune.MinSamples || cfg.Samples > mltune.MaxSamples {
			return fmt.Errorf("samples must be in [%d, %d]", mltune.MinSamples, mltune.MaxSamples)
		}
		if len(cfg.Params) == 0 {
			return fmt.Errorf("at least one parameter range required")
		}
	}
	return nil
}

// createRunHandler registers a PENDING run and enqueues it for a worker
func (s *Server) createRunHandler(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, err := c.GetRawData()
		if err != nil || len(params) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body required"})
			return
		}
		if err := validateParams(kind, params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid configuration",
				"details": err.Error(),
			})
			return
		}

		ctx := c.Request.Context()
		runID, err := s.store.CreateEvaluationRun(ctx, kind, params)
		if err != nil {
			log.Error().Err(err).Str("kind", kind).Msg("Failed to create evaluation run")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create run"})
			return
		}

		if _, err := s.queue.Enqueue(ctx, taskKinds[kind], runID, json.RawMessage(params)); err != nil {
			log.Error().Err(err).Str("kind", kind).Stringer("run_id", runID).Msg("Failed to enqueue run")
			if failErr := s.store.FailEvaluationRun(ctx, runID, "failed to enqueue: "+err.Error()); failErr != nil {
				log.Error().Err(failErr).Stringer("run_id", runID).Msg("Failed to mark run failed")
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch run"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"id":     runID.String(),
			"kind":   kind,
			"status": db.RunStatusPending,
		})
	}
}

func (s *Server) getRunHandler(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := s.loadRun(c, kind)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// subresourceHandler serves one top-level field of a completed run's results
func (s *Server) subresourceHandler(kind, field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, ok := s.loadCompletedResults(c, kind)
		if !ok {
			return
		}
		raw, ok := results[field]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("results carry no %s", field)})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// retryRunHandler clones a FAILED run into a fresh PENDING one
func (s *Server) retryRunHandler(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := s.loadRun(c, kind)
		if !ok {
			return
		}
		if run.Status != db.RunStatusFailed {
			c.JSON(http.StatusConflict, gin.H{
				"error":  "only failed runs can be retried",
				"status": run.Status,
			})
			return
		}

		ctx := c.Request.Context()
		runID, err := s.store.CreateEvaluationRun(ctx, kind, run.Params)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create retry run"})
			return
		}
		if _, err := s.queue.Enqueue(ctx, taskKinds[kind], runID, json.RawMessage(run.Params)); err != nil {
			if failErr := s.store.FailEvaluationRun(ctx, runID, "failed to enqueue: "+err.Error()); failErr != nil {
				log.Error().Err(failErr).Stringer("run_id", runID).Msg("Failed to mark retry run failed")
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch retry"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"id":        runID.String(),
			"kind":      kind,
			"status":    db.RunStatusPending,
			"retry_of":  run.ID.String(),
			"attempted": run.Error,
		})
	}
}

// cancelRunHandler marks a PENDING or RUNNING run CANCELLED; the worker
// abandons it at its next progress heartbeat
func (s *Server) cancelRunHandler(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := s.loadRun(c, kind)
		if !ok {
			return
		}
		if run.Status != db.RunStatusPending && run.Status != db.RunStatusRunning {
			c.JSON(http.StatusConflict, gin.H{
				"error":  "run is not cancellable",
				"status": run.Status,
			})
			return
		}

		if err := s.store.CancelEvaluationRun(c.Request.Context(), run.ID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				// finished between the read and the update
				c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel run"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":     run.ID.String(),
			"kind":   kind,
			"status": db.RunStatusCancelled,
		})
	}
}

// loadRun parses :id and fetches the run, writing the error response itself
func (s *Server) loadRun(c *gin.Context, kind string) (*db.EvaluationRun, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	run, err := s.store.GetEvaluationRun(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Stringer("run_id", id).Msg("Failed to fetch evaluation run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return nil, false
	}
	if run.Kind != kind {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s is a %s run", id, run.Kind)})
		return nil, false
	}
	return run, true
}

// loadCompletedResults fetches a run and decodes its results field map.
// Incomplete runs answer 409 with current status and progress.
func (s *Server) loadCompletedResults(c *gin.Context, kind string) (map[string]json.RawMessage, bool) {
	run, ok := s.loadRun(c, kind)
	if !ok {
		return nil, false
	}
	if run.Status != db.RunStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "run has not completed",
			"status":   run.Status,
			"progress": run.Progress,
		})
		return nil, false
	}

	var results map[string]json.RawMessage
	if err := json.Unmarshal(run.Results, &results); err != nil {
		log.Error().Err(err).Stringer("run_id", run.ID).Msg("Stored results are not valid JSON")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored results are unreadable"})
		return nil, false
	}
	return results, true
}
