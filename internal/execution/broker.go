package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PaperBroker simulates market closes without touching the exchange.
// Protective exits (floor, trailing, stop) fill at their trigger price like a
// resting stop; every other exit fills at the mark price of the decision.
type PaperBroker struct {
	prices contracts.PriceSource // mark fallback when a request carries no price
	logger *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	fills map[string]contracts.Fill // position id -> fill
}

// NewPaperBroker creates a paper broker. prices may be nil.
func NewPaperBroker(prices contracts.PriceSource, log *logger.Logger) *PaperBroker {
	return &PaperBroker{
		prices: prices,
		logger: log.Component("paper_broker"),
		now:    time.Now,
		fills:  make(map[string]contracts.Fill),
	}
}

// CloseAtMarket implements contracts.OrderExecutor.
// A second close for the same position returns the first fill.
func (b *PaperBroker) CloseAtMarket(ctx context.Context, req contracts.CloseRequest) (*contracts.Fill, error) {
	b.mu.Lock()
	if fill, ok := b.fills[req.PositionID]; ok {
		b.mu.Unlock()
		return &fill, nil
	}
	b.mu.Unlock()

	price := req.MarkPrice
	if req.Reason.Protective() && req.TriggerPrice > 0 {
		price = req.TriggerPrice
	}
	if price <= 0 && b.prices != nil {
		p, err := b.prices.GetPrice(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: paper close %s: %v", contracts.ErrExecution, req.PositionID, err)
		}
		price = p
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: paper close %s: no price", contracts.ErrExecution, req.PositionID)
	}

	fill := contracts.Fill{
		OrderID:  "paper-" + uuid.NewString(),
		Price:    price,
		FilledAt: b.now(),
	}

	b.mu.Lock()
	b.fills[req.PositionID] = fill
	b.mu.Unlock()

	b.logger.WithFields(map[string]interface{}{
		"position_id": req.PositionID,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"reason":      string(req.Reason),
		"price":       price,
	}).Info("Paper close filled")

	return &fill, nil
}

// Fills returns the number of simulated closes
func (b *PaperBroker) Fills() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fills)
}
