// The worker runs everything that is not request-driven: the scan
// scheduler, the paper-trade monitor, the learning loop, the stale-run
// watchdog and the queue consumers that execute evaluation tasks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/alerts"
	"github.com/tradepulse/tradepulse/internal/cache"
	"github.com/tradepulse/tradepulse/internal/config"
	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/learning"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/metrics"
	"github.com/tradepulse/tradepulse/internal/papertrade"
	"github.com/tradepulse/tradepulse/internal/queue"
	"github.com/tradepulse/tradepulse/internal/scanner"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("version", cfg.App.Version).Msg("Starting TradePulse worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	secrets, err := config.NewSecretProvider(config.SecretProviderConfig{
		Address: os.Getenv("VAULT_ADDR"),
		Token:   os.Getenv("VAULT_TOKEN"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize secret provider")
	}
	secrets.ResolveExchangeKeys(ctx, &cfg.Exchange)
	secrets.ResolveTelegramToken(ctx, &cfg.Alerts)

	database, err := db.New(ctx, db.Config{
		DSN:      cfg.Database.GetDSN(),
		PoolSize: int32(cfg.Database.PoolSize),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	registry := market.NewRegistry(database)
	if strategies, err := market.LoadStrategyFile(cfg.Scanner.StrategiesFile); err != nil {
		log.Warn().Err(err).Str("path", cfg.Scanner.StrategiesFile).Msg("Strategy file not loaded, using built-in defaults")
	} else {
		strategies.ApplyTo(registry)
	}
	if err := registry.LoadFromStore(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load active configs from store")
	}

	taskQueue, err := queue.New(queue.Config{
		URL:    cfg.NATS.URL,
		Prefix: cfg.NATS.Prefix + "tasks.",
		Name:   cfg.App.Name + "-worker",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to task queue")
	}
	defer taskQueue.Close()

	// events publish over NATS; the API process relays them to websockets
	events := taskQueue.Events()

	venue := newVenue(cfg)

	alerter := newAlerter(cfg)

	// ==================== Pipeline components ====================

	trades := papertrade.NewEngine(database)

	if cfg.Scanner.Enabled {
		sc := scanner.New(venue, registry, database, scanner.Config{
			TopSymbols:   cfg.Scanner.CryptoTopN,
			WindowBars:   cfg.Scanner.WindowBars,
			DisableAfter: cfg.Scanner.DisableAfter,
		}).WithHub(events).WithAlerts(alerter)
		if cfg.PaperTrade.Enabled {
			sc = sc.WithTradeOpener(trades)
		}

		scheduler := scanner.NewScheduler(sc, database)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if cfg.PaperTrade.Enabled {
		redisClient, err := cache.NewClient(ctx, cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		prices := cache.New(redisClient, venue, cfg.Redis.GetCacheTTL())

		monitor := papertrade.NewMonitor(database, prices, cfg.PaperTrade.MonitorInterval()).
			WithHub(events).WithAlerts(alerter)
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	if cfg.Learning.Enabled {
		lcfg := learning.DefaultConfig(learningUniverse(ctx, cfg, venue))
		lcfg.TradeThreshold = cfg.Learning.CounterThreshold
		lcfg.MinImprovementPct = cfg.Learning.ImprovementPct
		lcfg.DropThresholdPct = cfg.Learning.DropThresholdPct
		lcfg.Lookback = time.Duration(cfg.Learning.LookbackDays) * 24 * time.Hour
		lcfg.MaxCandidates = cfg.Learning.MaxCandidates
		lcfg.ScheduleWeekday = time.Weekday(cfg.Learning.WeeklyCronWeekday)
		lcfg.ScheduleHour = cfg.Learning.WeeklyCronHour

		engine := learning.NewEngine(lcfg, registry, database, venue).
			WithHub(events).WithAlerts(alerter)
		engine.Start(ctx)
		defer engine.Stop()
	}

	// ==================== Task consumers ====================

	tasks := &runner{
		store:     database,
		source:    venue,
		expiry:    time.Duration(cfg.Scanner.TaskExpirySec) * time.Second,
		heartbeat: time.Duration(cfg.Scanner.HeartbeatSec) * time.Second,
	}
	for _, kind := range []string{
		queue.TaskBacktest,
		queue.TaskWalkForward,
		queue.TaskMonteCarlo,
		queue.TaskMLTuning,
	} {
		sub, err := taskQueue.Consume(kind, tasks.handle())
		if err != nil {
			log.Fatal().Err(err).Str("kind", kind).Msg("Failed to start task consumer")
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	go watchdog(ctx, database, taskQueue,
		time.Duration(cfg.Scanner.WatchdogStale)*time.Second,
		cfg.Scanner.WatchdogRetries)

	if cfg.Monitoring.EnableMetrics {
		go serveMetrics(cfg.Monitoring.PrometheusPort)
	}

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	log.Info().Msg("Shutting down worker...")
}

// watchdog reclaims runs whose heartbeat stopped, so crashed workers never
// leave RUNNING rows behind forever. Reclaimed runs are re-enqueued up to
// the retry bound; beyond it they stay FAILED.
func watchdog(ctx context.Context, database *db.DB, taskQueue *queue.Queue, staleAfter time.Duration, maxRetries int) {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, failed, err := database.ReclaimStaleRuns(ctx, staleAfter, maxRetries)
			if err != nil {
				log.Warn().Err(err).Msg("Stale run sweep failed")
				continue
			}
			for _, run := range requeued {
				if _, err := taskQueue.Enqueue(ctx, taskKinds[run.Kind], run.ID, json.RawMessage(run.Params)); err != nil {
					log.Error().Err(err).Stringer("run_id", run.ID).Msg("Failed to re-enqueue reclaimed run")
					if failErr := database.FailEvaluationRun(ctx, run.ID, "failed to re-enqueue after heartbeat loss: "+err.Error()); failErr != nil {
						log.Error().Err(failErr).Stringer("run_id", run.ID).Msg("Failed to mark reclaimed run failed")
					}
					continue
				}
				log.Warn().
					Stringer("run_id", run.ID).
					Str("kind", run.Kind).
					Int("attempt", run.Retries).
					Msg("Re-enqueued stale evaluation run")
			}
			if failed > 0 {
				metrics.StaleRunsFailed.Add(float64(failed))
				log.Warn().Int64("count", failed).Msg("Failed stale evaluation runs past the retry bound")
			}
		}
	}
}

func serveMetrics(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}

// newVenue builds the Binance market data client from configuration
func newVenue(cfg *config.Config) *exchange.BinanceClient {
	retry := exchange.DefaultRetryConfig()
	if cfg.Exchange.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Exchange.MaxRetries
	}
	if cfg.Exchange.RetryJitterFactor > 0 {
		retry.Jitter = cfg.Exchange.RetryJitterFactor
	}

	return exchange.NewBinanceClient(exchange.BinanceConfig{
		APIKey:    cfg.Exchange.APIKey,
		SecretKey: cfg.Exchange.SecretKey,
		Testnet:   cfg.Exchange.Testnet,
		RateLimit: exchange.RateLimiterConfig{
			MinSpacing:      time.Duration(cfg.Exchange.MinSpacingMS) * time.Millisecond,
			MaxPerSecond:    cfg.Exchange.MaxPerSecond,
			MaxPerMinute:    cfg.Exchange.MaxPerMinute,
			MaxWeightPerMin: cfg.Exchange.MaxWeightPerMin,
		},
		Retry: retry,
	})
}

// newAlerter builds the alert fan-out; structured logs always, Telegram
// when configured
func newAlerter(cfg *config.Config) *alerts.Manager {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}

	if cfg.Alerts.TelegramEnabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramToken, []int64{cfg.Alerts.TelegramChatID})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerter disabled")
		} else {
			alerters = append(alerters, tg)
		}
	}
	return alerts.NewManager(alerters...)
}

// learningUniverse picks the symbols optimization cycles backtest over:
// the top liquid crypto pairs plus the configured forex and commodity sets
func learningUniverse(ctx context.Context, cfg *config.Config, venue exchange.Venue) []string {
	discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	symbols, err := venue.TopSymbolsByVolume(discoverCtx, 10)
	if err != nil {
		log.Warn().Err(err).Msg("Symbol discovery failed, using fallback universe")
		symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}
	symbols = append(symbols, cfg.Scanner.ForexSymbols...)
	symbols = append(symbols, cfg.Scanner.CommoditySyms...)
	return symbols
}
