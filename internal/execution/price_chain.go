package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PriceResult 시세 조회 결과
type PriceResult struct {
	Price    float64
	Source   string
	Attempts int
	Latency  time.Duration
}

type priceTier struct {
	source  contracts.PriceSource
	quote   realtime.QuoteSource
	retries bool
}

// PriceChain fetches a price from the primary source, then the secondary
// source, then the last-quote cache. Each remote source is retried with a
// fixed backoff before moving to the next tier.
// ⭐ SSOT: 모니터의 시세 조회 경로는 여기서만
type PriceChain struct {
	tiers    []priceTier
	quotes   *cache.PriceCache
	attempts int
	backoff  time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

// NewPriceChain builds the fallback chain. secondary and quotes may be nil.
func NewPriceChain(primary, secondary contracts.PriceSource, quotes *cache.PriceCache, attempts int, backoff time.Duration, log *logger.Logger) *PriceChain {
	if attempts < 1 {
		attempts = 1
	}

	c := &PriceChain{
		quotes:   quotes,
		attempts: attempts,
		backoff:  backoff,
		logger:   log.Component("price_chain"),
		now:      time.Now,
	}
	if primary != nil {
		c.tiers = append(c.tiers, priceTier{source: primary, quote: realtime.SourcePrimary, retries: true})
	}
	if secondary != nil {
		c.tiers = append(c.tiers, priceTier{source: secondary, quote: realtime.SourceSecondary, retries: true})
	}
	if quotes != nil {
		c.tiers = append(c.tiers, priceTier{source: quotes})
	}
	return c
}

// Fetch returns the first price any tier produces.
// All tiers failing yields ErrPriceUnavailable; the caller skips the position this tick.
func (c *PriceChain) Fetch(ctx context.Context, symbol string) (PriceResult, error) {
	start := c.now()
	attempts := 0
	var lastErr error

	for _, tier := range c.tiers {
		tries := 1
		if tier.retries {
			tries = c.attempts
		}

		for i := 0; i < tries; i++ {
			if i > 0 && !sleepCtx(ctx, c.backoff) {
				return PriceResult{Attempts: attempts, Latency: c.now().Sub(start)},
					fmt.Errorf("%w: %s: %v", contracts.ErrPriceUnavailable, symbol, ctx.Err())
			}

			attempts++
			price, err := tier.source.GetPrice(ctx, symbol)
			if err == nil && price > 0 {
				if tier.retries && c.quotes != nil {
					c.quotes.Update(realtime.Quote{
						Symbol:    symbol,
						Price:     price,
						Timestamp: c.now(),
						Source:    string(tier.quote),
					})
				}
				return PriceResult{
					Price:    price,
					Source:   tier.source.Name(),
					Attempts: attempts,
					Latency:  c.now().Sub(start),
				}, nil
			}
			if err == nil {
				err = fmt.Errorf("non-positive price %v", price)
			}
			lastErr = err

			c.logger.WithFields(map[string]interface{}{
				"symbol":  symbol,
				"source":  tier.source.Name(),
				"attempt": i + 1,
			}).WithError(err).Debug("Price fetch failed")
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no price sources configured")
	}
	return PriceResult{Attempts: attempts, Latency: c.now().Sub(start)},
		fmt.Errorf("%w: %s after %d attempts: %v", contracts.ErrPriceUnavailable, symbol, attempts, lastErr)
}

// sleepCtx waits d or until ctx ends; it reports whether the full wait elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
