package exchange

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVSource serves candles from a local CSV file for offline backtests.
// Expected columns: open_time (unix ms or RFC3339), open, high, low, close,
// volume. A header row is detected and skipped.
type CSVSource struct {
	path    string
	candles []Candle
}

// NewCSVSource loads and parses the file eagerly so format errors surface
// at startup rather than mid-backtest.
func NewCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the operator's CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	candles, err := parseCandleCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &CSVSource{path: path, candles: candles}, nil
}

// FetchCandles returns the loaded bars within [start, end). The interval is
// not re-derived from the file; the caller asserts it.
func (s *CSVSource) FetchCandles(_ context.Context, _ string, _ Interval, start, end time.Time) ([]Candle, error) {
	var out []Candle
	for _, c := range s.candles {
		if c.OpenTime.Before(start) || !c.OpenTime.Before(end) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no bars in requested range", ErrMalformedCandles)
	}
	return out, nil
}

// All returns every loaded candle
func (s *CSVSource) All() []Candle { return s.candles }

func parseCandleCSV(r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var candles []Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		if len(record) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", line, len(record))
		}

		openTime, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: bad timestamp %q", line, record[0])
		}

		fields := make([]float64, 5)
		for i := 0; i < 5; i++ {
			fields[i], err = strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %v", line, i+2, err)
			}
		}

		candles = append(candles, Candle{
			OpenTime: openTime,
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
		})
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candle rows found")
	}

	// infer close times from the spacing of consecutive bars
	for i := range candles {
		if i+1 < len(candles) {
			candles[i].CloseTime = candles[i+1].OpenTime.Add(-time.Millisecond)
		} else if i > 0 {
			step := candles[i].OpenTime.Sub(candles[i-1].OpenTime)
			candles[i].CloseTime = candles[i].OpenTime.Add(step - time.Millisecond)
		}
	}

	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}
