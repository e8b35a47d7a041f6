// Package execution runs the position monitor loop:
// price fetch, trailing update, exit evaluation and the single-shot market close.
package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// MonitorStats 모니터 상태 (health/status API)
type MonitorStats struct {
	Running          bool          `json:"running"`
	StartedAt        time.Time     `json:"started_at,omitempty"`
	Ticks            int64         `json:"ticks"`
	Errors           int64         `json:"errors"`
	Restarts         int64         `json:"restarts"`
	LastError        string        `json:"last_error,omitempty"`
	LastErrorAt      time.Time     `json:"last_error_at,omitempty"`
	LastTickAt       time.Time     `json:"last_tick_at,omitempty"`
	LastTickDuration time.Duration `json:"last_tick_duration"`
	AvgFetchLatency  time.Duration `json:"avg_fetch_latency"`
	Exits            int64         `json:"exits"`
	Open             int           `json:"open"`
	Closing          int           `json:"closing"`
}

// MonitorDeps 모니터 의존성
type MonitorDeps struct {
	Engine   *exit.Engine
	Store    *PositionStore
	Prices   *PriceChain
	Profiles contracts.ToleranceProvider
	Executor contracts.OrderExecutor
	Sink     contracts.TradeOutcomeSink // optional
	Metrics  *Metrics                   // optional
	Logger   *logger.Logger

	// MaxConcurrent bounds positions evaluated in parallel within one tick
	MaxConcurrent int
}

// PositionMonitor evaluates every OPEN position once per tick and closes those
// the evaluator selects. A position is closed at most once: the store's
// OPEN -> CLOSING transition gates every market order, including manual ones.
// ⭐ SSOT: 청산 실행은 이 모니터에서만
type PositionMonitor struct {
	engine   *exit.Engine
	cfg      *contracts.ExitRulesConfig
	store    *PositionStore
	prices   *PriceChain
	profiles contracts.ToleranceProvider
	executor contracts.OrderExecutor
	sink     contracts.TradeOutcomeSink
	metrics  *Metrics
	logger   *logger.Logger
	limit    int
	now      func() time.Time

	// ticks never overlap
	tickMu sync.Mutex

	mu            sync.Mutex
	stats         MonitorStats
	fetchTotal    time.Duration
	fetchCount    int64
	priceFailures map[string]int // symbol -> consecutive failures

	tickHook func() // test hook, runs before each loop tick
}

// NewPositionMonitor creates a monitor from deps
func NewPositionMonitor(deps MonitorDeps) (*PositionMonitor, error) {
	if deps.Engine == nil || deps.Store == nil || deps.Prices == nil || deps.Profiles == nil || deps.Executor == nil {
		return nil, fmt.Errorf("%w: monitor requires engine, store, prices, profiles and executor", contracts.ErrConfiguration)
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	limit := deps.MaxConcurrent
	if limit <= 0 {
		limit = 8
	}

	return &PositionMonitor{
		engine:        deps.Engine,
		cfg:           deps.Engine.Config,
		store:         deps.Store,
		prices:        deps.Prices,
		profiles:      deps.Profiles,
		executor:      deps.Executor,
		sink:          deps.Sink,
		metrics:       deps.Metrics,
		logger:        log.Component("monitor"),
		limit:         limit,
		now:           time.Now,
		priceFailures: make(map[string]int),
	}, nil
}

// =============================================================================
// Loop
// =============================================================================

// Run ticks every TickInterval until ctx is cancelled.
// A panic in the loop is logged and the loop restarts after RestartBackoff.
// Cancellation lets the in-flight tick (including any close order) finish.
func (m *PositionMonitor) Run(ctx context.Context) error {
	m.mu.Lock()
	m.stats.Running = true
	m.stats.StartedAt = m.now()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.stats.Running = false
		m.mu.Unlock()
	}()

	m.logger.WithFields(map[string]interface{}{
		"tick_interval":  m.cfg.TickInterval.String(),
		"pure_rule_mode": m.cfg.PureRuleMode,
		"max_concurrent": m.limit,
	}).Info("Position monitor started")

	for {
		err := m.loop(ctx)
		if ctx.Err() != nil {
			m.logger.Info("Position monitor stopped")
			return nil
		}

		m.mu.Lock()
		m.stats.Restarts++
		m.mu.Unlock()
		m.recordError(err)
		m.logger.WithError(err).WithField("backoff", m.cfg.RestartBackoff.String()).
			Error("Monitor loop crashed, restarting")

		if !sleepCtx(ctx, m.cfg.RestartBackoff) {
			m.logger.Info("Position monitor stopped")
			return nil
		}
	}
}

// loop runs ticks until ctx ends; a panic is returned as an error
func (m *PositionMonitor) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor loop panic: %v\n%s", r, debug.Stack())
		}
	}()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if m.tickHook != nil {
			m.tickHook()
		}
		if err := m.Tick(context.WithoutCancel(ctx)); err != nil {
			m.recordError(err)
			m.logger.WithError(err).Error("Tick failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick evaluates a snapshot of the OPEN positions once.
// Positions added after the snapshot wait for the next tick.
func (m *PositionMonitor) Tick(ctx context.Context) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := m.now()
	positions, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot positions: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.limit)
	for _, p := range positions {
		p := p
		g.Go(func() error {
			m.processPosition(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	open, closing, err := m.store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count positions: %w", err)
	}
	m.metrics.tick(open)

	m.mu.Lock()
	m.stats.Ticks++
	m.stats.LastTickAt = m.now()
	m.stats.LastTickDuration = m.now().Sub(start)
	m.stats.Open = open
	m.stats.Closing = closing
	ticks := m.stats.Ticks
	m.mu.Unlock()

	if every := m.cfg.HealthLogEveryTicks; every > 0 && ticks%int64(every) == 0 {
		m.logHealth()
	}
	return nil
}

// processPosition runs one position through price, trailing, evaluation and close.
// Failures stay local to the position.
func (m *PositionMonitor) processPosition(ctx context.Context, p *contracts.Position) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.tickError("panic")
			m.recordError(fmt.Errorf("position %s panic: %v", p.ID, r))
			m.logger.WithFields(map[string]interface{}{
				"position_id": p.ID,
				"symbol":      p.Symbol,
				"stack":       string(debug.Stack()),
			}).Error(fmt.Sprintf("Recovered panic while evaluating position: %v", r))
		}
	}()

	res, err := m.prices.Fetch(ctx, p.Symbol)
	m.metrics.fetched(res.Latency)
	m.observeFetch(res.Latency)
	if err != nil {
		failures := m.priceFailed(p.Symbol)
		m.metrics.tickError("price")
		m.recordError(err)
		m.logger.WithFields(map[string]interface{}{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"attempts":    res.Attempts,
		}).WithError(err).Escalate(failures, m.cfg.PriceFailureAlertThreshold, "Price unavailable, skipping position this tick")
		return
	}
	m.priceRecovered(p.Symbol)

	profile := m.profiles.Profile(ctx, p.Symbol)
	decision, trail := m.engine.Step(p, res.Price, profile, m.now())

	if trail.Activated || trail.Ratcheted {
		m.logger.WithFields(map[string]interface{}{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"floor_usd":   p.Trailing.FloorUSD,
			"peak_usd":    p.Trailing.HighestProfitEver,
			"net_pnl":     trail.NetPnLUSD,
		}).Info("Trailing floor moved")
	}

	if err := m.store.UpdateTrailing(ctx, p); err != nil {
		// closed by a concurrent manual close between snapshot and now
		if !errors.Is(err, contracts.ErrPositionNotFound) {
			m.metrics.tickError("store")
			m.recordError(err)
			m.logger.WithError(err).WithField("position_id", p.ID).Error("Failed to commit trailing state")
		}
		return
	}

	if decision == nil {
		return
	}

	if _, err := m.closePosition(ctx, p.ID, decision); err != nil {
		m.recordError(err)
	}
}

// =============================================================================
// Open / Close
// =============================================================================

// OpenPosition sizes the exit parameters for req and starts monitoring it
func (m *PositionMonitor) OpenPosition(ctx context.Context, req contracts.OpenRequest) (*contracts.Position, error) {
	profile := m.profiles.Profile(ctx, req.Symbol)
	p, err := m.engine.Open(uuid.NewString(), req, profile, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.store.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to add position: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"position_id":       p.ID,
		"symbol":            p.Symbol,
		"side":              string(p.Side),
		"entry_price":       p.EntryPrice,
		"quantity":          p.Quantity,
		"leverage":          p.Leverage,
		"regime":            p.Regime.String(),
		"take_profit_price": p.TakeProfitPrice,
		"stop_loss_price":   p.StopLossPrice,
		"target_usd":        p.PrimaryTargetUSD,
	}).Info("Position opened")

	return p, nil
}

// ClosePosition closes a position manually at the current price.
// Closing a position that is already CLOSING or CLOSED returns its current state
// without submitting another order.
func (m *PositionMonitor) ClosePosition(ctx context.Context, id string) (*contracts.Position, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != contracts.StatusOpen {
		return p, nil
	}

	res, err := m.prices.Fetch(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}

	now := m.now()
	net := m.engine.Calc.NetPnL(p, res.Price)
	return m.closePosition(ctx, id, &contracts.Decision{
		PositionID:   id,
		Reason:       contracts.ExitReasonManual,
		CurrentPrice: res.Price,
		TriggerPrice: res.Price,
		NetPnLUSD:    net,
		Message:      "manual close",
		DecidedAt:    now,
	})
}

// closePosition submits exactly one market close for a position that wins the
// OPEN -> CLOSING gate. A failed order rolls the position back to OPEN so the
// next tick re-evaluates it.
func (m *PositionMonitor) closePosition(ctx context.Context, id string, d *contracts.Decision) (*contracts.Position, error) {
	p, won, err := m.store.BeginClose(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return p, nil
	}
	// past the gate the sequence must end in CLOSED or back in OPEN, even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	log := m.logger.WithFields(map[string]interface{}{
		"position_id":   p.ID,
		"symbol":        p.Symbol,
		"side":          string(p.Side),
		"reason":        string(d.Reason),
		"current_price": d.CurrentPrice,
		"trigger_price": d.TriggerPrice,
		"net_pnl":       d.NetPnLUSD,
	})

	fill, err := m.executor.CloseAtMarket(ctx, contracts.CloseRequest{
		PositionID:   p.ID,
		Symbol:       p.Symbol,
		Side:         p.Side,
		Quantity:     p.Quantity,
		Reason:       d.Reason,
		MarkPrice:    d.CurrentPrice,
		TriggerPrice: d.TriggerPrice,
	})
	if err != nil {
		failures, rbErr := m.store.RollbackClose(ctx, id)
		if rbErr != nil {
			log.WithError(rbErr).Error("Failed to roll back close")
		}
		m.metrics.closeFailed()
		m.metrics.tickError("close")
		log.WithError(err).Escalate(failures, m.cfg.CloseFailureAlertThreshold, "Market close failed, position back to OPEN")
		if !errors.Is(err, contracts.ErrExecution) {
			err = fmt.Errorf("%w: %v", contracts.ErrExecution, err)
		}
		return nil, err
	}

	pnl := m.engine.Calc.NetPnL(p, fill.Price)
	closed, err := m.store.CompleteClose(ctx, id, d.Reason, fill.Price, pnl, fill.FilledAt)
	if err != nil {
		log.WithError(err).Error("Failed to complete close")
		return nil, fmt.Errorf("failed to complete close: %w", err)
	}

	m.metrics.exited(d.Reason, p.Side)
	m.mu.Lock()
	m.stats.Exits++
	m.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"order_id":     fill.OrderID,
		"exit_price":   fill.Price,
		"realized_pnl": pnl,
		"message":      d.Message,
	}).Info("Position closed")

	if m.sink != nil {
		if err := m.sink.Record(ctx, contracts.OutcomeOf(closed)); err != nil {
			log.WithError(err).Warn("Failed to record trade outcome")
		}
	}

	return closed, nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats returns a snapshot of the monitor counters
func (m *PositionMonitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	if m.fetchCount > 0 {
		s.AvgFetchLatency = m.fetchTotal / time.Duration(m.fetchCount)
	}
	return s
}

// Store exposes the position store (read paths for the API)
func (m *PositionMonitor) Store() *PositionStore {
	return m.store
}

// Config returns the active exit rules
func (m *PositionMonitor) Config() *contracts.ExitRulesConfig {
	return m.cfg
}

func (m *PositionMonitor) logHealth() {
	s := m.Stats()
	m.logger.WithFields(map[string]interface{}{
		"ticks":             s.Ticks,
		"errors":            s.Errors,
		"exits":             s.Exits,
		"open":              s.Open,
		"closing":           s.Closing,
		"avg_fetch_latency": s.AvgFetchLatency.String(),
		"last_tick":         s.LastTickDuration.String(),
	}).Info("Monitor health")
}

func (m *PositionMonitor) recordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Errors++
	m.stats.LastError = err.Error()
	m.stats.LastErrorAt = m.now()
}

func (m *PositionMonitor) observeFetch(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchTotal += d
	m.fetchCount++
}

func (m *PositionMonitor) priceFailed(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceFailures[symbol]++
	return m.priceFailures[symbol]
}

func (m *PositionMonitor) priceRecovered(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.priceFailures, symbol)
}
