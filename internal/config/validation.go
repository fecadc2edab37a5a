package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid configuration field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates all validation failures found in one pass
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("configuration invalid: %s", strings.Join(msgs, "; "))
}

// Validate checks the whole configuration and returns every problem found
func (c *Config) Validate() error {
	var errs ValidationErrors

	validEnvs := map[string]bool{"development": true, "staging": true, "production": true}
	if !validEnvs[c.App.Environment] {
		errs = append(errs, ValidationError{"app.environment", "must be development, staging or production"})
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errs = append(errs, ValidationError{"database.port", "must be in 1..65535"})
	}
	if c.Database.PoolSize < 1 {
		errs = append(errs, ValidationError{"database.pool_size", "must be >= 1"})
	}

	if c.Exchange.MinSpacingMS < 100 {
		errs = append(errs, ValidationError{"exchange.min_spacing_ms", "must be >= 100"})
	}
	if c.Exchange.MaxPerSecond < 1 || c.Exchange.MaxPerSecond > 10 {
		errs = append(errs, ValidationError{"exchange.max_per_second", "must be in 1..10"})
	}
	if c.Exchange.MaxPerMinute < 1 || c.Exchange.MaxPerMinute > 800 {
		errs = append(errs, ValidationError{"exchange.max_per_minute", "must be in 1..800"})
	}
	if c.Exchange.MaxWeightPerMin < 1 || c.Exchange.MaxWeightPerMin > 1000 {
		errs = append(errs, ValidationError{"exchange.max_weight_per_minute", "must be in 1..1000"})
	}
	if c.Exchange.CandleWeight < 1 {
		errs = append(errs, ValidationError{"exchange.candle_weight", "must be >= 1"})
	}
	if c.Exchange.BatchConcurrency < 1 {
		errs = append(errs, ValidationError{"exchange.batch_concurrency", "must be >= 1"})
	}
	if c.Exchange.MaxRetries < 0 || c.Exchange.MaxRetries > 5 {
		errs = append(errs, ValidationError{"exchange.max_retries", "must be in 0..5"})
	}

	if c.Scanner.WindowBars < 50 {
		errs = append(errs, ValidationError{"scanner.window_bars", "must be >= 50 for indicator warm-up"})
	}
	if c.Scanner.CryptoTopN < 1 {
		errs = append(errs, ValidationError{"scanner.crypto_top_n", "must be >= 1"})
	}

	if c.PaperTrade.DefaultNotional <= 0 {
		errs = append(errs, ValidationError{"paper_trade.default_notional", "must be > 0"})
	}
	if c.PaperTrade.MonitorSec < 1 {
		errs = append(errs, ValidationError{"paper_trade.monitor_interval_sec", "must be >= 1"})
	}

	if c.Learning.CounterThreshold < 1 {
		errs = append(errs, ValidationError{"learning.counter_threshold", "must be >= 1"})
	}
	if c.Learning.ImprovementPct <= 0 {
		errs = append(errs, ValidationError{"learning.improvement_pct", "must be > 0"})
	}
	if c.Learning.MaxCandidates < 1 || c.Learning.MaxCandidates > 8 {
		errs = append(errs, ValidationError{"learning.max_candidates", "must be in 1..8"})
	}
	if c.Learning.WeeklyCronWeekday < 0 || c.Learning.WeeklyCronWeekday > 6 {
		errs = append(errs, ValidationError{"learning.weekly_weekday", "must be in 0..6"})
	}
	if c.Learning.WeeklyCronHour < 0 || c.Learning.WeeklyCronHour > 23 {
		errs = append(errs, ValidationError{"learning.weekly_hour", "must be in 0..23"})
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, ValidationError{"api.port", "must be in 1..65535"})
	}

	if c.Alerts.TelegramEnabled && c.Alerts.TelegramToken == "" {
		errs = append(errs, ValidationError{"alerts.telegram_token", "required when telegram alerts are enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
