package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

func newTestCache(now *time.Time) *PriceCache {
	c := NewPriceCache(30*time.Second, nil, logger.Nop())
	c.now = func() time.Time { return *now }
	return c
}

func TestPriceCache_UpdateOrdering(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := newTestCache(&now)

	assert.True(t, c.Update(realtime.Quote{Symbol: "BTCUSDT", Price: 50000, Timestamp: now, Source: string(realtime.SourcePrimary)}))

	// older data rejected
	assert.False(t, c.Update(realtime.Quote{Symbol: "BTCUSDT", Price: 49000, Timestamp: now.Add(-time.Second), Source: string(realtime.SourceStream)}))

	// same timestamp: only a higher priority source wins
	assert.False(t, c.Update(realtime.Quote{Symbol: "BTCUSDT", Price: 49500, Timestamp: now, Source: string(realtime.SourceSecondary)}))
	assert.True(t, c.Update(realtime.Quote{Symbol: "BTCUSDT", Price: 50010, Timestamp: now, Source: string(realtime.SourceStream)}))

	q, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 50010.0, q.Price)
	assert.False(t, q.IsStale)

	assert.False(t, c.Update(realtime.Quote{Symbol: "BTCUSDT", Price: 0, Timestamp: now.Add(time.Second)}), "non-positive price ignored")
}

func TestPriceCache_GetPriceRespectsTTL(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := newTestCache(&now)
	ctx := context.Background()

	_, err := c.GetPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, contracts.ErrPriceUnavailable)

	c.Update(realtime.Quote{Symbol: "ETHUSDT", Price: 3000, Timestamp: now, Source: string(realtime.SourceStream)})

	price, err := c.GetPrice(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, price)

	now = now.Add(31 * time.Second)
	_, err = c.GetPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, contracts.ErrPriceUnavailable, "no stale closes beyond TTL")
}

func TestPriceCache_CleanStaleAndStats(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := newTestCache(&now)

	c.Update(realtime.Quote{Symbol: "A", Price: 1, Timestamp: now.Add(-time.Minute), Source: string(realtime.SourcePrimary)})
	c.Update(realtime.Quote{Symbol: "B", Price: 2, Timestamp: now, Source: string(realtime.SourceStream)})

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.StaleCount)
	assert.Equal(t, 1, stats.StreamCount)
	assert.Equal(t, 1, stats.RESTCount)

	assert.Equal(t, 1, c.CleanStale())
	assert.Equal(t, 1, c.Len())
	assert.Contains(t, c.GetAll(), "B")
}
