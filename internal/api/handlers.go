package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/learning"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/papertrade"
	"github.com/tradepulse/tradepulse/internal/ws"
)

func limitQuery(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		return 50
	}
	return limit
}

// handleListSignals filters signals by symbol, status, market type and
// timeframe. Symbol and status filter in the query; the rest post-filter.
func (s *Server) handleListSignals(c *gin.Context) {
	signals, err := s.store.ListSignals(c.Request.Context(),
		c.Query("symbol"), c.Query("status"), limitQuery(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list signals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list signals"})
		return
	}

	marketType := c.Query("market_type")
	timeframe := c.Query("timeframe")
	out := make([]db.Signal, 0, len(signals))
	for _, sig := range signals {
		if marketType != "" && sig.MarketType != marketType {
			continue
		}
		if timeframe != "" && sig.Timeframe != timeframe {
			continue
		}
		out = append(out, sig)
	}
	c.JSON(http.StatusOK, gin.H{"signals": out, "count": len(out)})
}

func (s *Server) handleListPaperTrades(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("status") == db.TradeStatusOpen {
		trades, err := s.store.ListOpenPaperTrades(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list paper trades"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
		return
	}

	trades, err := s.store.ListPaperTrades(ctx, c.Query("owner"), limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list paper trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// handleOpenPaperTrade opens a position for an existing signal
func (s *Server) handleOpenPaperTrade(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "paper trading disabled"})
		return
	}

	var req struct {
		SignalID string `json:"signal_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signal_id required", "details": err.Error()})
		return
	}
	id, err := uuid.Parse(req.SignalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal_id"})
		return
	}

	ctx := c.Request.Context()
	sig, err := s.store.GetSignal(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch signal"})
		return
	}
	if sig.Status != db.SignalStatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "signal is not active", "status": sig.Status})
		return
	}

	if err := s.trades.OpenForSignal(ctx, sig); err != nil {
		log.Error().Err(err).Stringer("signal_id", id).Msg("Failed to open paper trade")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open paper trade"})
		return
	}
	if s.hub != nil {
		s.hub.Publish(ws.EventPaperTradeOpened, map[string]interface{}{
			"signal_id": sig.ID,
			"symbol":    sig.Symbol,
			"direction": sig.Direction,
			"entry":     sig.Entry,
		})
	}
	c.JSON(http.StatusCreated, gin.H{"signal_id": id.String(), "status": db.TradeStatusOpen})
}

// handlePublicPaperTrading is the read-only dashboard feed: the system
// account summary plus its open positions
func (s *Server) handlePublicPaperTrading(c *gin.Context) {
	ctx := c.Request.Context()
	summary, err := s.store.GetAccountSummary(ctx, papertrade.DefaultOwner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account summary"})
		return
	}
	open, err := s.store.ListOpenPaperTrades(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list open trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": summary, "open_trades": open})
}

func (s *Server) handleLearningHistory(c *gin.Context) {
	runs, err := s.store.ListOptimizationRuns(c.Request.Context(),
		c.Query("market_type"), limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list optimization runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleActiveConfigs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"configs": s.registry.Snapshot()})
}

func (s *Server) handleTradeCounters(c *gin.Context) {
	ctx := c.Request.Context()
	counters := gin.H{}
	for _, mt := range market.AllMarketTypes {
		count, resetAt, err := s.store.GetTradeCounter(ctx, string(mt))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read trade counters"})
			return
		}
		counters[string(mt)] = gin.H{"closed_count": count, "last_reset_at": resetAt}
	}
	c.JSON(http.StatusOK, gin.H{"counters": counters})
}

// handleOptimize runs one learning cycle synchronously
func (s *Server) handleOptimize(c *gin.Context) {
	if s.optimizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "learning loop disabled"})
		return
	}

	var req struct {
		MarketType string `json:"market_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "market_type required", "details": err.Error()})
		return
	}
	mt := market.MarketType(req.MarketType)
	valid := false
	for _, known := range market.AllMarketTypes {
		if mt == known {
			valid = true
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown market type"})
		return
	}

	result, err := s.optimizer.RunCycle(c.Request.Context(), mt, learning.TriggerManual)
	if err != nil {
		log.Error().Err(err).Str("market_type", req.MarketType).Msg("Manual optimization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "optimization cycle failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleApplyConfig re-activates an archived configuration under a fresh
// version number
func (s *Server) handleApplyConfig(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config id"})
		return
	}

	ctx := c.Request.Context()
	record, err := s.store.GetConfigRecord(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch config"})
		return
	}

	var cfg market.SignalConfig
	if err := json.Unmarshal(record.Payload, &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored config is unreadable"})
		return
	}
	cfg.Version = s.registry.Get(cfg.MarketType).Version + 1

	prior, err := s.registry.SetActive(ctx, cfg)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to activate config", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"market_type":   string(cfg.MarketType),
		"version":       cfg.Version,
		"prior_version": prior,
		"applied_from": gin.H{
			"id":      record.ID.String(),
			"version": record.Version,
		},
	})
}

// handleHealth reports reachability of the platform's dependencies
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := s.store.Health(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if s.queue != nil && s.queue.Connected() {
		checks["queue"] = "ok"
	} else {
		checks["queue"] = "disconnected"
		healthy = false
	}

	if s.venue == nil {
		checks["exchange"] = "disabled"
	} else if _, err := s.venue.FetchPrices(ctx, []string{"BTCUSDT"}); err != nil {
		checks["exchange"] = err.Error()
		healthy = false
	} else {
		checks["exchange"] = "ok"
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks, "time": time.Now().UTC()})
}
