package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

type staticSymbols []string

func (s staticSymbols) Symbols(context.Context) ([]string, error) { return s, nil }

type fakeRefresher struct {
	got []string
}

func (f *fakeRefresher) Refresh(_ context.Context, symbols []string) int {
	f.got = symbols
	return len(symbols)
}

type fakeStream struct {
	mu  sync.Mutex
	got []string
}

func (f *fakeStream) SetSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = symbols
}

type fakeCandles struct {
	failFor string
}

func (f fakeCandles) RecentCandles(_ context.Context, symbol string, limit int) ([]contracts.Candle, error) {
	if symbol == f.failFor {
		return nil, errors.New("klines unavailable")
	}
	out := make([]contracts.Candle, limit)
	for i := range out {
		out[i] = contracts.Candle{OpenTime: time.Unix(int64(i)*3600, 0), Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return out, nil
}

type fakeCandleStore struct {
	saved map[string]int
}

func (f *fakeCandleStore) SaveCandles(_ context.Context, symbol string, candles []contracts.Candle) error {
	f.saved[symbol] = len(candles)
	return nil
}

func TestWatchedSymbols_MergesAndSorts(t *testing.T) {
	got, err := watchedSymbols(context.Background(), staticSymbols{"SOLUSDT", "BTCUSDT"}, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, got)
}

func TestProfileRefreshJob(t *testing.T) {
	refresher := &fakeRefresher{}
	job := NewProfileRefreshJob(refresher, staticSymbols{"ETHUSDT"}, []string{"BTCUSDT"}, logger.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, refresher.got)
	assert.Equal(t, "tolerance_profile_refresh", job.Name())
}

func TestStreamSymbolsJob(t *testing.T) {
	stream := &fakeStream{}
	job := NewStreamSymbolsJob(stream, staticSymbols{"ETHUSDT"}, nil, logger.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"ETHUSDT"}, stream.got)
}

func TestCandleSyncJob_ContinuesPastFailures(t *testing.T) {
	store := &fakeCandleStore{saved: make(map[string]int)}
	job := NewCandleSyncJob(fakeCandles{failFor: "ETHUSDT"}, store, staticSymbols{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, nil, 15, logger.Nop())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT")
	assert.Equal(t, map[string]int{"BTCUSDT": 15, "SOLUSDT": 15}, store.saved)
}

func TestCacheCleanupJob(t *testing.T) {
	quotes := cache.NewPriceCache(time.Second, nil, logger.Nop())
	quotes.Update(realtime.Quote{Symbol: "OLD", Price: 1, Timestamp: time.Now().Add(-time.Minute), Source: string(realtime.SourcePrimary)})
	quotes.Update(realtime.Quote{Symbol: "NEW", Price: 1, Timestamp: time.Now(), Source: string(realtime.SourceStream)})

	job := NewCacheCleanupJob(quotes, logger.Nop())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, quotes.Len())
}
