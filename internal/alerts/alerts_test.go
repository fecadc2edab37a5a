package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *captureAlerter) Send(ctx context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureAlerter) last(t *testing.T) Alert {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.alerts)
	return c.alerts[len(c.alerts)-1]
}

func TestManagerStampsTimestamp(t *testing.T) {
	capture := &captureAlerter{}
	mgr := NewManager(capture)

	err := mgr.Send(context.Background(), Alert{Title: "t", Message: "m", Severity: SeverityInfo})
	require.NoError(t, err)
	assert.False(t, capture.last(t).Timestamp.IsZero())
}

func TestManagerContinuesPastFailingChannel(t *testing.T) {
	broken := &captureAlerter{err: errors.New("channel down")}
	working := &captureAlerter{}
	mgr := NewManager(broken, working)

	err := mgr.Send(context.Background(), Alert{Title: "t", Message: "m", Severity: SeverityWarning})
	assert.Error(t, err, "failure is surfaced")
	assert.Len(t, working.alerts, 1, "healthy channel still delivered")
}

func TestSignalCreatedAlert(t *testing.T) {
	capture := &captureAlerter{}
	mgr := NewManager(capture)

	mgr.SignalCreated(context.Background(), "BTCUSDT", "4h", "LONG", 65000, 63500, 67500, 0.72)

	alert := capture.last(t)
	assert.Equal(t, SeverityInfo, alert.Severity)
	assert.Contains(t, alert.Title, "BTCUSDT")
	assert.Equal(t, "4h", alert.Metadata["timeframe"])
	assert.Equal(t, "72%", alert.Metadata["confidence"])
}

func TestTradeClosedSeverityTracksPnL(t *testing.T) {
	capture := &captureAlerter{}
	mgr := NewManager(capture)
	ctx := context.Background()

	mgr.TradeClosed(ctx, "ETHUSDT", "LONG", "TP_HIT", 3200, 3400, 6.25)
	assert.Equal(t, SeverityInfo, capture.last(t).Severity)

	mgr.TradeClosed(ctx, "ETHUSDT", "LONG", "SL_HIT", 3200, 3100, -3.12)
	assert.Equal(t, SeverityWarning, capture.last(t).Severity)
}

func TestFormatTelegramAlertIncludesMetadata(t *testing.T) {
	msg := formatTelegramAlert(Alert{
		Title:    "New LONG Signal: BTCUSDT",
		Message:  "LONG BTCUSDT on 1h at 65000",
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{"entry": 65000.0},
	})

	assert.Contains(t, msg, "*New LONG Signal: BTCUSDT*")
	assert.Contains(t, msg, "entry")
	assert.Contains(t, msg, "_Time:")
}
