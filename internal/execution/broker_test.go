package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

func TestPaperBroker_FillPrice(t *testing.T) {
	tests := []struct {
		name   string
		reason contracts.ExitReason
		want   float64
	}{
		{"floor fills at trigger", contracts.ExitReasonFloorViolation, 50900},
		{"stop fills at trigger", contracts.ExitReasonStopLoss, 50900},
		{"trailing fills at trigger", contracts.ExitReasonTrailingStop, 50900},
		{"target fills at mark", contracts.ExitReasonPrimaryTarget, 50800},
		{"manual fills at mark", contracts.ExitReasonManual, 50800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewPaperBroker(nil, logger.Nop())
			fill, err := b.CloseAtMarket(context.Background(), contracts.CloseRequest{
				PositionID:   "p-" + string(tt.reason),
				Symbol:       "BTCUSDT",
				Side:         contracts.SideLong,
				Quantity:     0.02,
				Reason:       tt.reason,
				MarkPrice:    50800,
				TriggerPrice: 50900,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, fill.Price)
			assert.Contains(t, fill.OrderID, "paper-")
		})
	}
}

func TestPaperBroker_Idempotent(t *testing.T) {
	b := NewPaperBroker(nil, logger.Nop())
	req := contracts.CloseRequest{PositionID: "p", Symbol: "BTCUSDT", Side: contracts.SideShort, Quantity: 1, Reason: contracts.ExitReasonManual, MarkPrice: 100}

	first, err := b.CloseAtMarket(context.Background(), req)
	require.NoError(t, err)

	req.MarkPrice = 90
	second, err := b.CloseAtMarket(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 100.0, second.Price)
	assert.Equal(t, 1, b.Fills())
}

func TestPaperBroker_MarkFallback(t *testing.T) {
	board := newPriceBoard("primary")
	board.set("ETHUSDT", 3000)
	b := NewPaperBroker(board, logger.Nop())

	fill, err := b.CloseAtMarket(context.Background(), contracts.CloseRequest{PositionID: "p", Symbol: "ETHUSDT", Reason: contracts.ExitReasonManual})
	require.NoError(t, err)
	assert.Equal(t, 3000.0, fill.Price)

	_, err = b.CloseAtMarket(context.Background(), contracts.CloseRequest{PositionID: "q", Symbol: "SOLUSDT", Reason: contracts.ExitReasonManual})
	assert.ErrorIs(t, err, contracts.ErrExecution)
}
