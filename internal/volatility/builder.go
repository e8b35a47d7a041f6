package volatility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
	"github.com/wonny/aegis/exitengine/pkg/redis"
)

// Builder computes and caches per-symbol tolerance profiles.
// ⭐ SSOT: 허용오차/배수는 이 빌더에서만 계산
//
// Lookup order: in-process cache -> shared Redis tier -> candle history.
// Concurrent misses for one symbol share a single computation.
type Builder struct {
	candles contracts.CandleProvider
	shared  *redis.Cache
	ttl     time.Duration
	period  int
	logger  *logger.Logger
	now     func() time.Time

	mu       sync.RWMutex
	profiles map[string]*contracts.ToleranceProfile
	group    singleflight.Group
}

// NewBuilder creates a profile builder. shared may be nil.
func NewBuilder(candles contracts.CandleProvider, shared *redis.Cache, ttl time.Duration, log *logger.Logger) *Builder {
	return &Builder{
		candles:  candles,
		shared:   shared,
		ttl:      ttl,
		period:   ATRPeriod,
		logger:   log.Component("volatility"),
		now:      time.Now,
		profiles: make(map[string]*contracts.ToleranceProfile),
	}
}

// Profile returns the cached profile of symbol, rebuilding it when stale.
// It never fails: insufficient history yields the static NORMAL profile.
func (b *Builder) Profile(ctx context.Context, symbol string) *contracts.ToleranceProfile {
	if p := b.cached(symbol); p != nil {
		return p
	}

	v, _, _ := b.group.Do(symbol, func() (interface{}, error) {
		// another caller may have filled the cache while we waited
		if p := b.cached(symbol); p != nil {
			return p, nil
		}

		if p := b.loadShared(ctx, symbol); p != nil {
			b.store(p)
			return p, nil
		}

		p, err := b.Build(ctx, symbol)
		if err != nil {
			b.logger.WithError(err).WithField("symbol", symbol).Warn("Tolerance profile fallback to default")
		}
		b.store(p)
		b.saveShared(ctx, p)
		return p, nil
	})

	cp := *v.(*contracts.ToleranceProfile)
	return &cp
}

// Build computes a fresh profile from candle history. On failure it returns the
// default profile together with an error wrapping ErrToleranceComputation.
func (b *Builder) Build(ctx context.Context, symbol string) (*contracts.ToleranceProfile, error) {
	now := b.now()

	if b.candles == nil {
		return contracts.DefaultToleranceProfile(symbol, now),
			fmt.Errorf("%w: no candle provider", contracts.ErrToleranceComputation)
	}

	candles, err := b.candles.RecentCandles(ctx, symbol, b.period+1)
	if err != nil {
		if !errors.Is(err, contracts.ErrToleranceComputation) {
			err = fmt.Errorf("%w: %v", contracts.ErrToleranceComputation, err)
		}
		return contracts.DefaultToleranceProfile(symbol, now), err
	}

	atrPct, err := ATRPercent(candles, b.period)
	if err != nil {
		return contracts.DefaultToleranceProfile(symbol, now), err
	}
	if !(atrPct > 0) {
		// 거래 정지/무체결 캔들: CALM 으로 분류하지 않고 기본 프로필
		return contracts.DefaultToleranceProfile(symbol, now),
			fmt.Errorf("%w: zero volatility over %d candles", contracts.ErrToleranceComputation, len(candles))
	}

	p := contracts.NewToleranceProfile(symbol, atrPct, Classify(atrPct), now)

	b.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"atr_pct": atrPct,
		"regime":  p.Regime.String(),
	}).Debug("Tolerance profile built")

	return p, nil
}

// Refresh rebuilds the profiles of symbols unconditionally and returns how many
// were computed from history (not defaulted).
func (b *Builder) Refresh(ctx context.Context, symbols []string) int {
	built := 0
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		p, err := b.Build(ctx, symbol)
		if err == nil {
			built++
		}
		b.store(p)
		b.saveShared(ctx, p)
	}
	return built
}

// Snapshot returns copies of all cached profiles ordered by symbol
func (b *Builder) Snapshot() []*contracts.ToleranceProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*contracts.ToleranceProfile, 0, len(b.profiles))
	for _, p := range b.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (b *Builder) cached(symbol string) *contracts.ToleranceProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.profiles[symbol]
	if !ok || p.Expired(b.now(), b.ttl) {
		return nil
	}
	cp := *p
	return &cp
}

func (b *Builder) store(p *contracts.ToleranceProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[p.Symbol] = p
}

func (b *Builder) loadShared(ctx context.Context, symbol string) *contracts.ToleranceProfile {
	if !b.shared.Enabled() {
		return nil
	}

	var p contracts.ToleranceProfile
	found, err := b.shared.Get(ctx, redis.ToleranceProfileKey(symbol), &p)
	if err != nil {
		b.logger.WithError(err).WithField("symbol", symbol).Debug("Shared profile read failed")
		return nil
	}
	if !found || p.Expired(b.now(), b.ttl) {
		return nil
	}
	return &p
}

func (b *Builder) saveShared(ctx context.Context, p *contracts.ToleranceProfile) {
	if !b.shared.Enabled() || p.Fallback {
		return
	}
	if err := b.shared.Set(ctx, redis.ToleranceProfileKey(p.Symbol), p, b.ttl); err != nil {
		b.logger.WithError(err).WithField("symbol", p.Symbol).Debug("Shared profile write failed")
	}
}
