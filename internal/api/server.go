// Package api serves the REST and websocket surface of the platform.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/learning"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/ws"
)

// Store is the database surface the handlers consume. *db.DB satisfies it.
type Store interface {
	Health(ctx context.Context) error

	CreateEvaluationRun(ctx context.Context, kind string, params []byte) (uuid.UUID, error)
	GetEvaluationRun(ctx context.Context, id uuid.UUID) (*db.EvaluationRun, error)
	ListEvaluationRuns(ctx context.Context, kind string, limit int) ([]db.EvaluationRun, error)
	FailEvaluationRun(ctx context.Context, id uuid.UUID, message string) error
	CancelEvaluationRun(ctx context.Context, id uuid.UUID) error

	GetSignal(ctx context.Context, id uuid.UUID) (*db.Signal, error)
	ListSignals(ctx context.Context, symbol, status string, limit int) ([]db.Signal, error)

	ListOpenPaperTrades(ctx context.Context) ([]db.PaperTrade, error)
	ListPaperTrades(ctx context.Context, owner string, limit int) ([]db.PaperTrade, error)
	GetAccountSummary(ctx context.Context, owner string) (*db.AccountSummary, error)

	ListOptimizationRuns(ctx context.Context, marketType string, limit int) ([]db.OptimizationRun, error)
	ListConfigHistory(ctx context.Context, marketType string, limit int) ([]db.ConfigRecord, error)
	GetConfigRecord(ctx context.Context, id uuid.UUID) (*db.ConfigRecord, error)
	GetTradeCounter(ctx context.Context, marketType string) (int, time.Time, error)
}

// TaskQueue dispatches evaluation work to the worker pool
type TaskQueue interface {
	Enqueue(ctx context.Context, kind string, runID uuid.UUID, payload interface{}) (uuid.UUID, error)
	Connected() bool
}

// TradeOpener opens a paper trade for a persisted signal
type TradeOpener interface {
	OpenForSignal(ctx context.Context, sig *db.Signal) error
}

// Optimizer runs one learning cycle on demand
type Optimizer interface {
	RunCycle(ctx context.Context, mt market.MarketType, trigger string) (*learning.CycleResult, error)
}

// Config wires the server's collaborators. Hub, Venue, Trades and Optimizer
// are optional; their routes degrade gracefully when absent.
type Config struct {
	Host string
	Port int

	Store     Store
	Queue     TaskQueue
	Registry  *market.Registry
	Hub       *ws.Hub
	Venue     exchange.Venue
	Trades    TradeOpener
	Optimizer Optimizer
}

// Server is the REST API server
type Server struct {
	router    *gin.Engine
	store     Store
	queue     TaskQueue
	registry  *market.Registry
	hub       *ws.Hub
	venue     exchange.Venue
	trades    TradeOpener
	optimizer Optimizer

	addr   string
	server *http.Server
}

// NewServer builds the router and registers every route
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router:    router,
		store:     cfg.Store,
		queue:     cfg.Queue,
		registry:  cfg.Registry,
		hub:       cfg.Hub,
		venue:     cfg.Venue,
		trades:    cfg.Trades,
		optimizer: cfg.Optimizer,
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		backtest := v1.Group("/backtest")
		{
			backtest.POST("", s.createRunHandler(db.RunKindBacktest))
			backtest.GET("/:id", s.getRunHandler(db.RunKindBacktest))
			backtest.GET("/:id/trades", s.subresourceHandler(db.RunKindBacktest, "trades"))
			backtest.GET("/:id/metrics", s.subresourceHandler(db.RunKindBacktest, "metrics"))
			backtest.GET("/:id/equity-curve", s.subresourceHandler(db.RunKindBacktest, "equity_curve"))
			backtest.POST("/:id/retry", s.retryRunHandler(db.RunKindBacktest))
			backtest.POST("/:id/cancel", s.cancelRunHandler(db.RunKindBacktest))
		}

		walkforward := v1.Group("/walkforward")
		{
			walkforward.POST("", s.createRunHandler(db.RunKindWalkForward))
			walkforward.GET("/:id", s.getRunHandler(db.RunKindWalkForward))
			walkforward.GET("/:id/windows", s.subresourceHandler(db.RunKindWalkForward, "windows"))
			walkforward.GET("/:id/metrics", s.handleWalkForwardMetrics)
			walkforward.POST("/:id/retry", s.retryRunHandler(db.RunKindWalkForward))
			walkforward.POST("/:id/cancel", s.cancelRunHandler(db.RunKindWalkForward))
		}

		montecarlo := v1.Group("/montecarlo")
		{
			montecarlo.POST("", s.createRunHandler(db.RunKindMonteCarlo))
			montecarlo.GET("/:id", s.getRunHandler(db.RunKindMonteCarlo))
			montecarlo.GET("/:id/runs", s.handleMonteCarloRuns)
			montecarlo.GET("/:id/distributions", s.subresourceHandler(db.RunKindMonteCarlo, "histograms"))
			montecarlo.GET("/:id/best-worst", s.handleMonteCarloBestWorst)
			montecarlo.GET("/:id/parameter-impact", s.handleMonteCarloParameterImpact)
			montecarlo.POST("/:id/retry", s.retryRunHandler(db.RunKindMonteCarlo))
			montecarlo.POST("/:id/cancel", s.cancelRunHandler(db.RunKindMonteCarlo))
		}

		mltuning := v1.Group("/mltuning")
		{
			mltuning.POST("", s.createRunHandler(db.RunKindMLTuning))
			mltuning.GET("/:id", s.getRunHandler(db.RunKindMLTuning))
			mltuning.GET("/:id/samples", s.subresourceHandler(db.RunKindMLTuning, "samples"))
			mltuning.GET("/:id/feature-importance", s.subresourceHandler(db.RunKindMLTuning, "feature_importance"))
			mltuning.GET("/:id/sensitivity", s.subresourceHandler(db.RunKindMLTuning, "sensitivities"))
			mltuning.POST("/:id/predict", s.handleMLTunePredict)
			mltuning.POST("/:id/find-optimal", s.handleMLTuneFindOptimal)
			mltuning.POST("/:id/retry", s.retryRunHandler(db.RunKindMLTuning))
			mltuning.POST("/:id/cancel", s.cancelRunHandler(db.RunKindMLTuning))
		}

		v1.GET("/signals", s.handleListSignals)

		v1.GET("/paper-trades", s.handleListPaperTrades)
		v1.POST("/paper-trades", s.handleOpenPaperTrade)
		v1.GET("/public/paper-trading", s.handlePublicPaperTrading)

		lrn := v1.Group("/learning")
		{
			lrn.GET("/history", s.handleLearningHistory)
			lrn.GET("/configs/active", s.handleActiveConfigs)
			lrn.GET("/counters", s.handleTradeCounters)
			lrn.POST("/optimize", s.handleOptimize)
			lrn.POST("/configs/:id/apply", s.handleApplyConfig)
		}
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", func(c *gin.Context) {
		if s.hub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket hub not running"})
			return
		}
		ws.ServeWS(s.hub, c.Writer, c.Request)
	})
}

// Start blocks serving HTTP until Stop or a listener error
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// LoggerMiddleware logs one line per request through zerolog
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}
