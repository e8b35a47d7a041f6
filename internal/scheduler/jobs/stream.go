package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// StreamSubscriber accepts the wanted stream symbol set (feed.StreamClient)
type StreamSubscriber interface {
	SetSymbols(symbols []string)
}

// StreamSymbolsJob subscribes the ticker stream to every watched symbol
type StreamSymbolsJob struct {
	stream  StreamSubscriber
	symbols SymbolSource
	watch   []string
	logger  *logger.Logger
}

// NewStreamSymbolsJob creates a stream symbol sync job
func NewStreamSymbolsJob(stream StreamSubscriber, symbols SymbolSource, watch []string, log *logger.Logger) *StreamSymbolsJob {
	return &StreamSymbolsJob{
		stream:  stream,
		symbols: symbols,
		watch:   watch,
		logger:  log,
	}
}

// Name returns the job name
func (j *StreamSymbolsJob) Name() string {
	return "stream_symbol_sync"
}

// Schedule returns the cron schedule (every 15 seconds)
func (j *StreamSymbolsJob) Schedule() string {
	return "*/15 * * * * *"
}

// Run pushes the current symbol set to the stream client
func (j *StreamSymbolsJob) Run(ctx context.Context) error {
	symbols, err := watchedSymbols(ctx, j.symbols, j.watch)
	if err != nil {
		return fmt.Errorf("failed to list symbols: %w", err)
	}
	j.stream.SetSymbols(symbols)
	return nil
}
