package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	PaperTrade PaperTradeConfig `mapstructure:"paper_trade"`
	Learning   LearningConfig   `mapstructure:"learning"`
	API        APIConfig        `mapstructure:"api"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the price cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// NATSConfig contains NATS task-queue settings
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	Prefix     string `mapstructure:"prefix"`      // subject prefix
	QueueGroup string `mapstructure:"queue_group"` // worker pool name
}

// ExchangeConfig contains exchange client settings
type ExchangeConfig struct {
	Venue             string  `mapstructure:"venue"` // "binance"
	APIKey            string  `mapstructure:"api_key"`
	SecretKey         string  `mapstructure:"secret_key"`
	Testnet           bool    `mapstructure:"testnet"`
	MinSpacingMS      int     `mapstructure:"min_spacing_ms"`
	MaxPerSecond      int     `mapstructure:"max_per_second"`
	MaxPerMinute      int     `mapstructure:"max_per_minute"`
	MaxWeightPerMin   int     `mapstructure:"max_weight_per_minute"`
	CandleWeight      int     `mapstructure:"candle_weight"`
	BatchConcurrency  int     `mapstructure:"batch_concurrency"`
	BatchDelayMS      int     `mapstructure:"batch_delay_ms"`
	BatchTimeoutSec   int     `mapstructure:"batch_timeout_sec"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryJitterFactor float64 `mapstructure:"retry_jitter_factor"`
}

// ScannerConfig contains scan-orchestrator settings
type ScannerConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	CryptoTopN      int      `mapstructure:"crypto_top_n"`
	ForexSymbols    []string `mapstructure:"forex_symbols"`
	CommoditySyms   []string `mapstructure:"commodity_symbols"`
	WindowBars      int      `mapstructure:"window_bars"`
	DisableAfter    int      `mapstructure:"disable_after"` // consecutive failed scans
	StrategiesFile  string   `mapstructure:"strategies_file"`
	TaskExpirySec   int      `mapstructure:"task_expiry_sec"`
	HeartbeatSec    int      `mapstructure:"heartbeat_sec"`
	WatchdogStale   int      `mapstructure:"watchdog_stale_sec"`
	WatchdogRetries int      `mapstructure:"watchdog_max_retries"`
}

// PaperTradeConfig contains paper-trading engine settings
type PaperTradeConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	DefaultNotional float64 `mapstructure:"default_notional"`
	MonitorSec      int     `mapstructure:"monitor_interval_sec"`
}

// LearningConfig contains continuous-learning settings
type LearningConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CounterThreshold  int     `mapstructure:"counter_threshold"`
	DropThresholdPct  float64 `mapstructure:"drop_threshold_pct"`
	ImprovementPct    float64 `mapstructure:"improvement_pct"`
	LookbackDays      int     `mapstructure:"lookback_days"`
	MaxCandidates     int     `mapstructure:"max_candidates"`
	WeeklyCronWeekday int     `mapstructure:"weekly_weekday"` // 0 = Sunday
	WeeklyCronHour    int     `mapstructure:"weekly_hour"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AlertsConfig contains alerting settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics  bool `mapstructure:"enable_metrics"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEPULSE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "TradePulse")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradepulse")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 25)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "tradepulse.")
	v.SetDefault("nats.queue_group", "workers")

	// Exchange defaults (67% of the documented 1200 req/min venue cap)
	v.SetDefault("exchange.venue", "binance")
	v.SetDefault("exchange.min_spacing_ms", 100)
	v.SetDefault("exchange.max_per_second", 10)
	v.SetDefault("exchange.max_per_minute", 800)
	v.SetDefault("exchange.max_weight_per_minute", 1000)
	v.SetDefault("exchange.candle_weight", 2)
	v.SetDefault("exchange.batch_concurrency", 5)
	v.SetDefault("exchange.batch_delay_ms", 1500)
	v.SetDefault("exchange.batch_timeout_sec", 30)
	v.SetDefault("exchange.max_retries", 5)
	v.SetDefault("exchange.retry_jitter_factor", 0.2)

	// Scanner defaults
	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.crypto_top_n", 100)
	v.SetDefault("scanner.forex_symbols", []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"})
	v.SetDefault("scanner.commodity_symbols", []string{"XAUUSD", "XAGUSD", "WTIUSD"})
	v.SetDefault("scanner.window_bars", 100)
	v.SetDefault("scanner.disable_after", 5)
	v.SetDefault("scanner.strategies_file", "./configs/strategies.yaml")
	v.SetDefault("scanner.task_expiry_sec", 120)
	v.SetDefault("scanner.heartbeat_sec", 15)
	v.SetDefault("scanner.watchdog_stale_sec", 120)
	v.SetDefault("scanner.watchdog_max_retries", 3)

	// Paper trading defaults
	v.SetDefault("paper_trade.enabled", true)
	v.SetDefault("paper_trade.default_notional", 100.0)
	v.SetDefault("paper_trade.monitor_interval_sec", 30)

	// Learning defaults
	v.SetDefault("learning.enabled", true)
	v.SetDefault("learning.counter_threshold", 200)
	v.SetDefault("learning.drop_threshold_pct", 15.0)
	v.SetDefault("learning.improvement_pct", 5.0)
	v.SetDefault("learning.lookback_days", 30)
	v.SetDefault("learning.max_candidates", 8)
	v.SetDefault("learning.weekly_weekday", 0)
	v.SetDefault("learning.weekly_hour", 3)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Alerts defaults
	v.SetDefault("alerts.telegram_enabled", false)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.prometheus_port", 9100)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetCacheTTL returns the price-cache TTL as a duration
func (c *RedisConfig) GetCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitorInterval returns the paper-trade monitor cadence
func (c *PaperTradeConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorSec) * time.Second
}
