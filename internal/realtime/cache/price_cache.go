package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/pkg/logger"
	"github.com/wonny/aegis/exitengine/pkg/redis"
)

// PriceCache is an in-memory last-known quote cache with a freshness TTL.
// ⭐ SSOT: 실시간 가격 캐싱은 이 구조체에서만
//
// When a shared Redis cache is attached, accepted quotes are mirrored there and
// local misses read through it, so several engine processes share one view.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]*realtime.Quote
	ttl    time.Duration
	shared *redis.Cache
	logger *logger.Logger
	now    func() time.Time
}

// NewPriceCache creates a new price cache. shared may be nil.
func NewPriceCache(ttl time.Duration, shared *redis.Cache, log *logger.Logger) *PriceCache {
	return &PriceCache{
		prices: make(map[string]*realtime.Quote),
		ttl:    ttl,
		shared: shared,
		logger: log,
		now:    time.Now,
	}
}

// Update updates price in cache
// Only accepts newer data, or same-time data from higher priority sources
func (c *PriceCache) Update(q realtime.Quote) bool {
	if q.Price <= 0 || q.Symbol == "" {
		return false
	}

	c.mu.Lock()
	existing, exists := c.prices[q.Symbol]

	if exists {
		// Don't accept older data
		if q.Timestamp.Before(existing.Timestamp) {
			c.mu.Unlock()
			c.logger.WithFields(map[string]interface{}{
				"symbol":     q.Symbol,
				"new_time":   q.Timestamp,
				"old_time":   existing.Timestamp,
				"new_source": q.Source,
				"old_source": existing.Source,
			}).Debug("Rejected older price data")
			return false
		}

		if q.Timestamp.Equal(existing.Timestamp) &&
			realtime.QuoteSource(q.Source).Priority() <= realtime.QuoteSource(existing.Source).Priority() {
			c.mu.Unlock()
			return false
		}
	}

	q.IsStale = c.now().Sub(q.Timestamp) > c.ttl
	c.prices[q.Symbol] = &q
	c.mu.Unlock()

	if c.shared.Enabled() && q.Source != string(realtime.SourceShared) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.shared.Set(ctx, redis.QuoteKey(q.Symbol), q, c.ttl); err != nil {
			c.logger.WithError(err).WithField("symbol", q.Symbol).Debug("Shared quote write failed")
		}
	}

	return true
}

// Get retrieves a quote copy with its staleness flag refreshed
func (c *PriceCache) Get(symbol string) (realtime.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, exists := c.prices[symbol]
	if !exists {
		return realtime.Quote{}, false
	}

	out := *q
	out.IsStale = c.now().Sub(out.Timestamp) > c.ttl
	return out, true
}

// Name implements contracts.PriceSource
func (c *PriceCache) Name() string {
	return "cache"
}

// GetPrice returns the last-known price if it is within the freshness TTL.
// It is the last tier of the price chain.
func (c *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, error) {
	q, ok := c.Get(symbol)
	if !ok && c.shared.Enabled() {
		var shared realtime.Quote
		found, err := c.shared.Get(ctx, redis.QuoteKey(symbol), &shared)
		if err == nil && found {
			shared.Source = string(realtime.SourceShared)
			c.Update(shared)
			q, ok = c.Get(symbol)
		}
	}

	if !ok {
		return 0, fmt.Errorf("%w: no cached quote for %s", contracts.ErrPriceUnavailable, symbol)
	}
	if q.IsStale {
		return 0, fmt.Errorf("%w: cached quote for %s is %s old", contracts.ErrPriceUnavailable,
			symbol, c.now().Sub(q.Timestamp).Round(time.Second))
	}
	return q.Price, nil
}

// GetAll retrieves copies of all quotes
func (c *PriceCache) GetAll() map[string]realtime.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make(map[string]realtime.Quote, len(c.prices))
	for symbol, q := range c.prices {
		out := *q
		out.IsStale = now.Sub(out.Timestamp) > c.ttl
		result[symbol] = out
	}
	return result
}

// Delete removes price from cache
func (c *PriceCache) Delete(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.prices, symbol)
}

// Len returns the number of prices in cache
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.prices)
}

// CleanStale removes stale prices from cache
func (c *PriceCache) CleanStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0

	for symbol, q := range c.prices {
		if now.Sub(q.Timestamp) > c.ttl {
			delete(c.prices, symbol)
			count++
		}
	}

	if count > 0 {
		c.logger.WithField("count", count).Info("Cleaned stale prices from cache")
	}

	return count
}

// Stats returns cache statistics
func (c *PriceCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		TotalCount: len(c.prices),
	}

	now := c.now()
	for _, q := range c.prices {
		if now.Sub(q.Timestamp) > c.ttl {
			stats.StaleCount++
		}

		switch realtime.QuoteSource(q.Source) {
		case realtime.SourceStream:
			stats.StreamCount++
		case realtime.SourcePrimary, realtime.SourceSecondary:
			stats.RESTCount++
		case realtime.SourceShared:
			stats.SharedCount++
		}
	}

	stats.FreshCount = stats.TotalCount - stats.StaleCount

	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalCount  int `json:"total_count"`
	FreshCount  int `json:"fresh_count"`
	StaleCount  int `json:"stale_count"`
	StreamCount int `json:"stream_count"`
	RESTCount   int `json:"rest_count"`
	SharedCount int `json:"shared_count"`
}
