// Package alerts delivers operator notifications for signal and trade
// lifecycle events over one or more channels.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one notification message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter delivers an alert over a single channel
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. A channel failure
// is logged and does not stop delivery to the remaining channels.
type Manager struct {
	alerters []Alerter
}

// NewManager creates an alert manager over the given channels
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{alerters: alerters}
}

// Send delivers an alert to all configured channels
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// SignalCreated notifies about a freshly persisted signal
func (m *Manager) SignalCreated(ctx context.Context, symbol, timeframe, direction string, entry, stopLoss, takeProfit, confidence float64) {
	_ = m.Send(ctx, Alert{
		Title:    fmt.Sprintf("New %s Signal: %s", direction, symbol),
		Message:  fmt.Sprintf("%s %s on %s at %.6g", direction, symbol, timeframe, entry),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{
			"symbol":      symbol,
			"timeframe":   timeframe,
			"direction":   direction,
			"entry":       entry,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
			"confidence":  fmt.Sprintf("%.0f%%", confidence*100),
		},
	})
}

// SignalUpgraded notifies that a higher-timeframe signal replaced a lower one
func (m *Manager) SignalUpgraded(ctx context.Context, symbol, direction, oldTimeframe, newTimeframe string) {
	_ = m.Send(ctx, Alert{
		Title:    fmt.Sprintf("Signal Upgraded: %s", symbol),
		Message:  fmt.Sprintf("%s %s upgraded from %s to %s", direction, symbol, oldTimeframe, newTimeframe),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{
			"symbol":        symbol,
			"direction":     direction,
			"old_timeframe": oldTimeframe,
			"new_timeframe": newTimeframe,
		},
	})
}

// TradeClosed notifies about a closed paper trade
func (m *Manager) TradeClosed(ctx context.Context, symbol, direction, reason string, entry, exit, pnl float64) {
	severity := SeverityInfo
	if pnl < 0 {
		severity = SeverityWarning
	}
	_ = m.Send(ctx, Alert{
		Title:    fmt.Sprintf("Paper Trade Closed: %s", symbol),
		Message:  fmt.Sprintf("%s %s closed (%s), P&L %.4f", direction, symbol, reason, pnl),
		Severity: severity,
		Metadata: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"reason":    reason,
			"entry":     entry,
			"exit":      exit,
			"pnl":       pnl,
		},
	})
}

// ConfigPromoted notifies that the learning loop activated a new config
func (m *Manager) ConfigPromoted(ctx context.Context, marketType string, version int, improvement float64) {
	_ = m.Send(ctx, Alert{
		Title:    fmt.Sprintf("Strategy Config Promoted: %s", marketType),
		Message:  fmt.Sprintf("Config v%d activated for %s (+%.1f%% fitness)", version, marketType, improvement),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{
			"market_type": marketType,
			"version":     version,
			"improvement": improvement,
		},
	})
}

// SystemError notifies about a critical component failure
func (m *Manager) SystemError(ctx context.Context, component string, err error) {
	_ = m.Send(ctx, Alert{
		Title:    "System Error",
		Message:  fmt.Sprintf("Critical error in %s: %v", component, err),
		Severity: SeverityCritical,
		Metadata: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}

// LogAlerter writes alerts to the structured log
type LogAlerter struct{}

// NewLogAlerter creates a log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send logs the alert at a level matching its severity
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(alert.Message)

	return nil
}
