package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// BATCH FETCHER
// ============================================================================

// BatchConfig bounds the parallelism of multi-symbol candle fetches
type BatchConfig struct {
	Concurrency int           // symbols in flight at once
	BatchDelay  time.Duration // pause between consecutive batches
	Timeout     time.Duration // deadline for one whole batch
}

// DefaultBatchConfig returns the production batch limits
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Concurrency: 5,
		BatchDelay:  1500 * time.Millisecond,
		Timeout:     30 * time.Second,
	}
}

// BatchResult carries per-symbol outcomes of a best-effort batch fetch
type BatchResult struct {
	Candles map[string][]Candle
	Errors  map[string]error
}

// BatchFetcher fetches candles for many symbols, a few at a time. Failures
// are isolated per symbol; a batch never aborts because one symbol failed.
type BatchFetcher struct {
	source CandleSource
	cfg    BatchConfig
}

// NewBatchFetcher creates a batch fetcher over the given source
func NewBatchFetcher(source CandleSource, cfg BatchConfig) *BatchFetcher {
	if cfg.Concurrency < 1 {
		cfg = DefaultBatchConfig()
	}
	return &BatchFetcher{source: source, cfg: cfg}
}

// FetchBatch retrieves candles for every symbol on one timeframe. Symbols
// are processed in groups of Concurrency with BatchDelay between groups.
func (f *BatchFetcher) FetchBatch(ctx context.Context, symbols []string, interval Interval, start, end time.Time) BatchResult {
	result := BatchResult{
		Candles: make(map[string][]Candle, len(symbols)),
		Errors:  make(map[string]error),
	}
	var mu sync.Mutex

	for batchStart := 0; batchStart < len(symbols); batchStart += f.cfg.Concurrency {
		if ctx.Err() != nil {
			mu.Lock()
			for _, sym := range symbols[batchStart:] {
				result.Errors[sym] = ctx.Err()
			}
			mu.Unlock()
			break
		}

		batchEnd := batchStart + f.cfg.Concurrency
		if batchEnd > len(symbols) {
			batchEnd = len(symbols)
		}
		batch := symbols[batchStart:batchEnd]

		batchCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		g, gctx := errgroup.WithContext(batchCtx)
		g.SetLimit(f.cfg.Concurrency)

		for _, sym := range batch {
			sym := sym
			g.Go(func() error {
				candles, err := f.source.FetchCandles(gctx, sym, interval, start, end)
				mu.Lock()
				if err != nil {
					result.Errors[sym] = err
				} else {
					result.Candles[sym] = candles
				}
				mu.Unlock()
				// errors are recorded per symbol, never propagated so the
				// group keeps the rest of the batch running
				return nil
			})
		}
		_ = g.Wait()
		cancel()

		if batchEnd < len(symbols) && f.cfg.BatchDelay > 0 {
			timer := time.NewTimer(f.cfg.BatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	if len(result.Errors) > 0 {
		log.Warn().
			Int("failed", len(result.Errors)).
			Int("succeeded", len(result.Candles)).
			Str("interval", string(interval)).
			Msg("Batch candle fetch completed with per-symbol failures")
	}

	return result
}
