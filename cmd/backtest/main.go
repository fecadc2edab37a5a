// Standalone backtest runner over a CSV candle file. Useful for strategy
// work without a database, queue or exchange connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/exchange"
	"github.com/tradepulse/tradepulse/internal/market"
	"github.com/tradepulse/tradepulse/pkg/backtest"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	csvPath := flag.String("csv", "", "path to candle CSV file (required)")
	symbol := flag.String("symbol", "BTCUSDT", "symbol the candles belong to")
	timeframe := flag.String("timeframe", "1h", "candle timeframe (15m, 1h, 4h, 1d)")
	startStr := flag.String("start", "", "replay start, RFC3339 or 2006-01-02 (default: first candle)")
	endStr := flag.String("end", "", "replay end, RFC3339 or 2006-01-02 (default: last candle)")
	capital := flag.Float64("capital", 10000, "initial capital")
	position := flag.Float64("position", 100, "notional per position")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	interval, err := exchange.ParseInterval(*timeframe)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid timeframe")
	}

	source, err := exchange.NewCSVSource(*csvPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *csvPath).Msg("Failed to load candles")
	}
	candles := source.All()
	if len(candles) == 0 {
		log.Fatal().Str("path", *csvPath).Msg("Candle file is empty")
	}

	start := candles[0].OpenTime
	if *startStr != "" {
		start = parseTime(*startStr)
	}
	end := candles[len(candles)-1].CloseTime
	if *endStr != "" {
		end = parseTime(*endStr)
	}

	cfg := backtest.DefaultConfig([]string{*symbol}, interval, start, end)
	cfg.Signal = market.DefaultSignalConfig(market.Classify(*symbol))
	cfg.InitialCapital = *capital
	cfg.PositionSize = *position

	result, err := backtest.NewEngine(cfg).Run(context.Background(), source)
	if err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	fmt.Print(backtest.GenerateReport(result))
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	log.Fatal().Str("value", s).Msg("Invalid time, use RFC3339 or 2006-01-02")
	return time.Time{}
}
