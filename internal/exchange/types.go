package exchange

import (
	"fmt"
	"math"
	"time"
)

// Interval is a candle timeframe
type Interval string

const (
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Duration returns the wall-clock span of one candle
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Priority ranks timeframes for signal dedup; higher wins (1d > 4h > 1h > 15m)
func (i Interval) Priority() int {
	switch i {
	case Interval1d:
		return 4
	case Interval4h:
		return 3
	case Interval1h:
		return 2
	case Interval15m:
		return 1
	default:
		return 0
	}
}

// BarsPerYear returns the annualization factor for Sharpe on this timeframe
func (i Interval) BarsPerYear() float64 {
	return (365.25 * 24 * time.Hour).Hours() / i.Duration().Hours()
}

// ParseInterval validates a timeframe string
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Interval15m, Interval1h, Interval4h, Interval1d:
		return Interval(s), nil
	}
	return "", fmt.Errorf("unsupported interval: %q", s)
}

// Candle represents one OHLCV bar on one timeframe for one symbol
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// IsZeroRange reports whether the bar has no high-low spread. Synthetic
// spot candles (O=H=L=C) are zero-range and downstream ATR math must
// tolerate them.
func (c Candle) IsZeroRange() bool {
	return c.High == c.Low
}

// ValidateCandles rejects series the indicator engine cannot consume:
// NaN fields, non-monotonic open times, or gaps beyond one interval.
func ValidateCandles(candles []Candle, interval Interval) error {
	if len(candles) == 0 {
		return fmt.Errorf("%w: empty series", ErrMalformedCandles)
	}

	step := interval.Duration()
	for i, c := range candles {
		if math.IsNaN(c.Open) || math.IsNaN(c.High) || math.IsNaN(c.Low) ||
			math.IsNaN(c.Close) || math.IsNaN(c.Volume) {
			return fmt.Errorf("%w: NaN field at bar %d", ErrMalformedCandles, i)
		}
		if c.High < c.Low {
			return fmt.Errorf("%w: high < low at bar %d", ErrMalformedCandles, i)
		}
		if i == 0 {
			continue
		}
		gap := c.OpenTime.Sub(candles[i-1].OpenTime)
		if gap <= 0 {
			return fmt.Errorf("%w: non-monotonic open time at bar %d", ErrMalformedCandles, i)
		}
		if gap > step {
			return fmt.Errorf("%w: gap of %s before bar %d exceeds one %s interval",
				ErrMalformedCandles, gap, i, interval)
		}
	}

	return nil
}
