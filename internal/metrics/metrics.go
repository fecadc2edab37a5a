// Package metrics exposes Prometheus instrumentation for the scanner,
// paper trading engine and exchange client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan pipeline metrics
var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepulse_scans_total",
		Help: "Completed scan cycles per timeframe",
	}, []string{"timeframe"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradepulse_scan_duration_seconds",
		Help:    "Wall time of one scan cycle",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"timeframe"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepulse_signals_emitted_total",
		Help: "Signals persisted, by market type and direction",
	}, []string{"market_type", "direction"})

	SignalsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradepulse_signals_deduplicated_total",
		Help: "Signal candidates dropped by the dedup-and-upgrade rule",
	})

	SymbolScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradepulse_symbol_scan_errors_total",
		Help: "Per-symbol scan failures that did not abort the cycle",
	})
)

// Exchange client metrics
var (
	ExchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepulse_exchange_requests_total",
		Help: "Venue requests by operation and outcome",
	}, []string{"operation", "outcome"})

	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradepulse_rate_limit_hits_total",
		Help: "Venue 429 responses observed",
	})

	RateBudgetUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradepulse_rate_budget_usage",
		Help: "Rolling one-minute request and weight consumption",
	}, []string{"budget"})
)

// Paper trading metrics
var (
	OpenPaperTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepulse_open_paper_trades",
		Help: "Currently open paper trades",
	})

	PaperTradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepulse_paper_trades_closed_total",
		Help: "Closed paper trades by outcome",
	}, []string{"outcome"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepulse_realized_pnl",
		Help: "Cumulative realized paper trading P&L in quote currency",
	})
)

// Learning loop metrics
var (
	OptimizationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepulse_optimization_runs_total",
		Help: "Continuous learning cycles by trigger and outcome",
	}, []string{"trigger", "outcome"})

	ActiveConfigVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradepulse_active_config_version",
		Help: "Version of the ACTIVE signal config per market type",
	}, []string{"market_type"})
)

// Worker metrics
var (
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepulse_tasks_processed_total",
		Help: "Queue tasks processed by kind and outcome",
	}, []string{"kind", "outcome"})

	StaleRunsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradepulse_stale_runs_failed_total",
		Help: "Evaluation runs failed by the heartbeat watchdog",
	})
)
