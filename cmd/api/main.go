package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/api"
	"github.com/tradepulse/tradepulse/internal/config"
	"github.com/tradepulse/tradepulse/internal/db"
	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/learning"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/internal/papertrade"
	"github.com/tradepulse/tradepulse/internal/queue"
	"github.com/tradepulse/tradepulse/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("version", cfg.App.Version).Msg("Starting TradePulse API server")

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
		Name:   cfg.App.Name + "-api",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to task queue")
	}
	defer taskQueue.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// relay pipeline events published by the worker into the websocket hub
	eventSub, err := taskQueue.SubscribeEvents(func(evt *queue.Event) {
		hub.Publish(evt.Type, evt.Payload)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to pipeline events")
	}
	defer func() { _ = eventSub.Unsubscribe() }()

	venue := newVenue(cfg)

	serverCfg := api.Config{
		Host:     cfg.API.Host,
		Port:     cfg.API.Port,
		Store:    database,
		Queue:    taskQueue,
		Registry: registry,
		Hub:      hub,
		Venue:    venue,
	}
	if cfg.PaperTrade.Enabled {
		serverCfg.Trades = papertrade.NewEngine(database)
	}
	if cfg.Learning.Enabled {
		serverCfg.Optimizer = newOptimizer(ctx, cfg, registry, database, venue)
	}

	server := api.NewServer(serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}

	log.Info().Msg("Server stopped successfully")
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

// newOptimizer wires the learning engine used by the manual optimize
// endpoint. The scheduled trigger loop runs in the worker, not here.
func newOptimizer(ctx context.Context, cfg *config.Config, registry *market.Registry, database *db.DB, venue exchange.Venue) *learning.Engine {
	lcfg := learning.DefaultConfig(learningUniverse(ctx, cfg, venue))
	lcfg.TradeThreshold = cfg.Learning.CounterThreshold
	lcfg.MinImprovementPct = cfg.Learning.ImprovementPct
	lcfg.DropThresholdPct = cfg.Learning.DropThresholdPct
	lcfg.Lookback = time.Duration(cfg.Learning.LookbackDays) * 24 * time.Hour
	lcfg.MaxCandidates = cfg.Learning.MaxCandidates
	return learning.NewEngine(lcfg, registry, database, venue)
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
