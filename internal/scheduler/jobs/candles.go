package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// CandleStore persists candles (volatility.DBCandleProvider)
type CandleStore interface {
	SaveCandles(ctx context.Context, symbol string, candles []contracts.Candle) error
}

// CandleSyncJob copies recent hourly candles from the exchange into the database
// so profiles can be rebuilt when the exchange is unreachable
type CandleSyncJob struct {
	source  contracts.CandleProvider
	store   CandleStore
	symbols SymbolSource
	watch   []string
	limit   int
	logger  *logger.Logger
}

// NewCandleSyncJob creates a candle sync job
func NewCandleSyncJob(source contracts.CandleProvider, store CandleStore, symbols SymbolSource, watch []string, limit int, log *logger.Logger) *CandleSyncJob {
	return &CandleSyncJob{
		source:  source,
		store:   store,
		symbols: symbols,
		watch:   watch,
		limit:   limit,
		logger:  log,
	}
}

// Name returns the job name
func (j *CandleSyncJob) Name() string {
	return "candle_sync"
}

// Schedule returns the cron schedule (hourly, five minutes past the bar close)
func (j *CandleSyncJob) Schedule() string {
	return "0 5 * * * *"
}

// Run syncs every watched symbol; one failing symbol does not stop the others
func (j *CandleSyncJob) Run(ctx context.Context) error {
	symbols, err := watchedSymbols(ctx, j.symbols, j.watch)
	if err != nil {
		return fmt.Errorf("failed to list symbols: %w", err)
	}

	var errs []error
	saved := 0
	for _, symbol := range symbols {
		candles, err := j.source.RecentCandles(ctx, symbol, j.limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		if err := j.store.SaveCandles(ctx, symbol, candles); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		saved += len(candles)
	}

	j.logger.WithFields(map[string]interface{}{
		"symbols": len(symbols),
		"candles": saved,
		"failed":  len(errs),
	}).Info("Candle sync completed")

	return errors.Join(errs...)
}
