package api

import (
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/pkg/mltune"
	"github.com/tradepulse/tradepulse/pkg/montecarlo"
)

// handleWalkForwardMetrics returns the aggregate verdict without the
// per-window detail
func (s *Server) handleWalkForwardMetrics(c *gin.Context) {
	results, ok := s.loadCompletedResults(c, db.RunKindWalkForward)
	if !ok {
		return
	}
	out := gin.H{}
	for _, field := range []string{"mean_is_roi", "mean_oos_roi", "degradation", "consistency", "robust"} {
		if raw, found := results[field]; found {
			out[field] = raw
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) monteCarloSims(c *gin.Context) ([]montecarlo.SimResult, bool) {
	results, ok := s.loadCompletedResults(c, db.RunKindMonteCarlo)
	if !ok {
		return nil, false
	}
	var sims []montecarlo.SimResult
	if err := json.Unmarshal(results["simulations"], &sims); err != nil {
		log.Error().Err(err).Msg("Stored simulations are unreadable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored simulations are unreadable"})
		return nil, false
	}
	return sims, true
}

func simMetric(s montecarlo.SimResult, key string) float64 {
	switch key {
	case "max_drawdown_pct":
		return s.MaxDrawdownPct
	case "win_rate":
		return s.WinRate
	case "sharpe":
		return s.Sharpe
	default:
		return s.ROIPct
	}
}

// handleMonteCarloRuns lists individual simulations, best first by the
// sort_by metric (roi_pct, max_drawdown_pct, win_rate or sharpe)
func (s *Server) handleMonteCarloRuns(c *gin.Context) {
	sims, ok := s.monteCarloSims(c)
	if !ok {
		return
	}
	sortBy := c.DefaultQuery("sort_by", "roi_pct")
	sort.SliceStable(sims, func(i, j int) bool {
		// drawdown sorts ascending since smaller is better
		if sortBy == "max_drawdown_pct" {
			return simMetric(sims[i], sortBy) < simMetric(sims[j], sortBy)
		}
		return simMetric(sims[i], sortBy) > simMetric(sims[j], sortBy)
	})
	c.JSON(http.StatusOK, gin.H{"sort_by": sortBy, "simulations": sims})
}

func (s *Server) handleMonteCarloBestWorst(c *gin.Context) {
	sims, ok := s.monteCarloSims(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("n", "5"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
		return
	}
	if n > len(sims) {
		n = len(sims)
	}

	sort.SliceStable(sims, func(i, j int) bool { return sims[i].ROIPct > sims[j].ROIPct })

	worst := make([]montecarlo.SimResult, n)
	copy(worst, sims[len(sims)-n:])
	// worst-first ordering for the bottom slice
	for i, j := 0, len(worst)-1; i < j; i, j = i+1, j-1 {
		worst[i], worst[j] = worst[j], worst[i]
	}

	c.JSON(http.StatusOK, gin.H{"best": sims[:n], "worst": worst})
}

// handleMonteCarloParameterImpact reports the Pearson correlation of every
// randomized parameter against simulated ROI
func (s *Server) handleMonteCarloParameterImpact(c *gin.Context) {
	sims, ok := s.monteCarloSims(c)
	if !ok {
		return
	}

	names := make(map[string]bool)
	for _, sim := range sims {
		for name := range sim.Params {
			names[name] = true
		}
	}

	impact := gin.H{}
	for name := range names {
		var xs, ys []float64
		for _, sim := range sims {
			if v, found := sim.Params[name]; found {
				xs = append(xs, v)
				ys = append(ys, sim.ROIPct)
			}
		}
		impact[name] = pearson(xs, ys)
	}
	c.JSON(http.StatusOK, gin.H{"correlation_with_roi": impact})
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed)) // #nosec G404 -- reproducible sampling, not crypto
}

// loadTuneModel refits the surrogate from a completed tuning run's samples
func (s *Server) loadTuneModel(c *gin.Context) (*mltune.Model, mltune.Config, bool) {
	results, ok := s.loadCompletedResults(c, db.RunKindMLTuning)
	if !ok {
		return nil, mltune.Config{}, false
	}

	var stored struct {
		Config  mltune.Config   `json:"config"`
		Samples []mltune.Sample `json:"samples"`
	}
	if err := json.Unmarshal(results["config"], &stored.Config); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored config is unreadable"})
		return nil, mltune.Config{}, false
	}
	if err := json.Unmarshal(results["samples"], &stored.Samples); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored samples are unreadable"})
		return nil, mltune.Config{}, false
	}

	model, err := mltune.Refit(stored.Config, stored.Samples)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refit model", "details": err.Error()})
		return nil, mltune.Config{}, false
	}
	return model, stored.Config, true
}

func (s *Server) handleMLTunePredict(c *gin.Context) {
	var req struct {
		Params map[string]float64 `json:"params" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "params required", "details": err.Error()})
		return
	}

	model, _, ok := s.loadTuneModel(c)
	if !ok {
		return
	}
	pred := model.Predict(req.Params)
	c.JSON(http.StatusOK, gin.H{
		"params":     req.Params,
		"value":      pred.Value,
		"confidence": pred.Confidence,
	})
}

func (s *Server) handleMLTuneFindOptimal(c *gin.Context) {
	var req struct {
		Candidates int `json:"candidates"`
		TopK       int `json:"top_k"`
	}
	// an empty body asks for the defaults
	_ = c.ShouldBindJSON(&req)
	if req.Candidates <= 0 {
		req.Candidates = 500
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	model, cfg, ok := s.loadTuneModel(c)
	if !ok {
		return
	}
	rng := newSeededRand(cfg.Seed)
	best := mltune.FindOptimal(model, cfg.Params, req.Candidates, req.TopK, rng)
	c.JSON(http.StatusOK, gin.H{"candidates": best})
}
