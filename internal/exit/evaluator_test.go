package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

func openReferencePosition(t *testing.T, eng *Engine, side contracts.Side) (*contracts.Position, *contracts.ToleranceProfile) {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	profile := contracts.DefaultToleranceProfile("BTCUSDT", now)
	req := contracts.OpenRequest{Symbol: "BTCUSDT", Side: side, EntryPrice: 50000, Quantity: 0.02, Leverage: 10}

	p, err := eng.Open("pos-1", req, profile, now)
	require.NoError(t, err)
	return p, profile
}

func TestEvaluate_PrimaryTargetAtTenDollars(t *testing.T) {
	cfg := pureConfig()
	cfg.PrimaryTargetUSD = 10
	eng, err := NewEngine(cfg)
	require.NoError(t, err)

	p, profile := openReferencePosition(t, eng, contracts.SideLong)
	require.Equal(t, 50900.0, p.TakeProfitPrice)

	d, _ := eng.Step(p, 50899, profile, p.OpenedAt.Add(time.Minute))
	assert.Nil(t, d, "9.98 net is below target and above the 7 floor")

	d, _ = eng.Step(p, 50900, profile, p.OpenedAt.Add(2*time.Minute))
	require.NotNil(t, d)
	assert.Equal(t, contracts.ExitReasonPrimaryTarget, d.Reason)
	assert.Equal(t, 50900.0, d.TriggerPrice)
	assert.InDelta(t, 10.0, d.NetPnLUSD, 0.01)
	assert.Equal(t, "pos-1", d.PositionID)
}

// profit 0 -> 8 -> 5 with a 7 floor exits on FLOOR_VIOLATION at the floor
func TestEvaluate_FloorViolationAfterPullback(t *testing.T) {
	eng, err := NewEngine(pureConfig())
	require.NoError(t, err)

	p, profile := openReferencePosition(t, eng, contracts.SideLong)
	now := p.OpenedAt

	for _, profit := range []float64{0, 8} {
		now = now.Add(time.Second)
		d, _ := eng.Step(p, priceAt(t, eng.Calc, p, profit), profile, now)
		assert.Nil(t, d, "profit %v", profit)
	}
	require.True(t, p.Trailing.FloorActivated)
	assert.Equal(t, 7.0, p.Trailing.FloorUSD)

	d, _ := eng.Step(p, priceAt(t, eng.Calc, p, 5), profile, now.Add(time.Second))
	require.NotNil(t, d)
	assert.Equal(t, contracts.ExitReasonFloorViolation, d.Reason)
	assert.InDelta(t, 5.0, d.NetPnLUSD, 0.01)
	assert.GreaterOrEqual(t, eng.Calc.NetPnL(p, d.TriggerPrice), 7.0-0.01, "fill at trigger realizes the floor")
}

func TestEvaluate_StopLoss(t *testing.T) {
	eng, err := NewEngine(pureConfig())
	require.NoError(t, err)

	for _, tc := range []struct {
		side  contracts.Side
		price float64
	}{
		{contracts.SideLong, 49500},
		{contracts.SideShort, 50500},
	} {
		p, profile := openReferencePosition(t, eng, tc.side)
		assert.Equal(t, tc.price, p.StopLossPrice)

		d, _ := eng.Step(p, tc.price, profile, p.OpenedAt.Add(time.Minute))
		require.NotNil(t, d, "side %s", tc.side)
		assert.Equal(t, contracts.ExitReasonStopLoss, d.Reason)
		assert.LessOrEqual(t, -eng.Calc.NetPnL(p, d.TriggerPrice), 10+eng.Calc.FeeBuffer(p)+0.01)
	}
}

func TestEvaluate_FloorTakesPriorityOverStopLoss(t *testing.T) {
	eng, err := NewEngine(pureConfig())
	require.NoError(t, err)

	p, profile := openReferencePosition(t, eng, contracts.SideLong)
	eng.Step(p, priceAt(t, eng.Calc, p, 8), profile, p.OpenedAt.Add(time.Second))

	// gap straight through the stop price
	d, _ := eng.Step(p, 49000, profile, p.OpenedAt.Add(2*time.Second))
	require.NotNil(t, d)
	assert.Equal(t, contracts.ExitReasonFloorViolation, d.Reason)
}

func TestEvaluate_SafetyTimeExit(t *testing.T) {
	eng, err := NewEngine(pureConfig())
	require.NoError(t, err)
	old := eng.Config.SafetyMaxAge + time.Hour

	t.Run("losing position past max age", func(t *testing.T) {
		p, profile := openReferencePosition(t, eng, contracts.SideLong)
		d, _ := eng.Step(p, priceAt(t, eng.Calc, p, -6), profile, p.OpenedAt.Add(old))
		require.NotNil(t, d)
		assert.Equal(t, contracts.ExitReasonSafetyTimeExit, d.Reason)
	})

	t.Run("profitable position is never closed for age", func(t *testing.T) {
		p, profile := openReferencePosition(t, eng, contracts.SideLong)
		d, _ := eng.Step(p, priceAt(t, eng.Calc, p, 3), profile, p.OpenedAt.Add(old))
		assert.Nil(t, d)
	})

	t.Run("small loss within threshold", func(t *testing.T) {
		p, profile := openReferencePosition(t, eng, contracts.SideLong)
		d, _ := eng.Step(p, priceAt(t, eng.Calc, p, -2), profile, p.OpenedAt.Add(old))
		assert.Nil(t, d)
	})

	t.Run("young losing position", func(t *testing.T) {
		p, profile := openReferencePosition(t, eng, contracts.SideLong)
		d, _ := eng.Step(p, priceAt(t, eng.Calc, p, -6), profile, p.OpenedAt.Add(time.Hour))
		assert.Nil(t, d)
	})
}

func TestEvaluate_TargetTouch(t *testing.T) {
	for _, pure := range []bool{false, true} {
		cfg := contracts.DefaultExitRulesConfig()
		cfg.RatchetCooldown = 0
		cfg.PureRuleMode = pure
		eng, err := NewEngine(cfg)
		require.NoError(t, err)

		p, profile := openReferencePosition(t, eng, contracts.SideLong)
		require.Equal(t, 57900.0, p.TakeProfitPrice)

		d, _ := eng.Step(p, 57600, profile, p.OpenedAt.Add(time.Second))
		assert.Nil(t, d)
		assert.True(t, p.Trailing.TargetTouched)

		d, _ = eng.Step(p, 57300, profile, p.OpenedAt.Add(2*time.Second))
		if pure {
			assert.Nil(t, d, "pure rule mode disables TARGET_TOUCH")
			continue
		}
		require.NotNil(t, d)
		assert.Equal(t, contracts.ExitReasonTargetTouch, d.Reason)
		assert.Greater(t, d.NetPnLUSD, 0.0)
	}
}

func TestEvaluate_Breakeven(t *testing.T) {
	for _, pure := range []bool{false, true} {
		cfg := contracts.DefaultExitRulesConfig()
		cfg.PureRuleMode = pure
		eng, err := NewEngine(cfg)
		require.NoError(t, err)

		p, profile := openReferencePosition(t, eng, contracts.SideLong)
		eng.Step(p, priceAt(t, eng.Calc, p, 6), profile, p.OpenedAt.Add(time.Second))
		require.False(t, p.Trailing.FloorActivated)

		d, _ := eng.Step(p, priceAt(t, eng.Calc, p, 0), profile, p.OpenedAt.Add(2*time.Second))
		if pure {
			assert.Nil(t, d)
			continue
		}
		require.NotNil(t, d)
		assert.Equal(t, contracts.ExitReasonBreakeven, d.Reason)
	}
}

func TestEvaluate_HoldReturnsNil(t *testing.T) {
	eng, err := NewEngine(pureConfig())
	require.NoError(t, err)

	p, profile := openReferencePosition(t, eng, contracts.SideShort)
	d, res := eng.Step(p, 49990, profile, p.OpenedAt.Add(time.Second))
	assert.Nil(t, d)
	assert.False(t, p.Trailing.FloorActivated)
	assert.Equal(t, 0.0, res.FloorPrice)
	assert.Equal(t, 49990.0, p.LastPrice)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := contracts.DefaultExitRulesConfig()
	cfg.AbsoluteFloorUSD = 500
	_, err := NewEngine(cfg)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}
