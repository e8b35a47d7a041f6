package exit

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

func testPosition(side contracts.Side) *contracts.Position {
	return &contracts.Position{
		ID:               "pos-1",
		Symbol:           "BTCUSDT",
		Side:             side,
		EntryPrice:       50000,
		Quantity:         0.02,
		Leverage:         10,
		Notional:         Notional(50000, 0.02, 10),
		PrimaryTargetUSD: 150,
		AbsoluteFloorUSD: 7,
		Status:           contracts.StatusOpen,
		OpenedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNotional(t *testing.T) {
	assert.Equal(t, 10000.0, Notional(50000, 0.02, 10))
}

// 10 USD net on 10k notional at 0.08% needs 18 USD gross -> 50,900
func TestPriceForDollarTarget_TenDollarNet(t *testing.T) {
	calc := NewTargetCalculator(0.0008)
	p := testPosition(contracts.SideLong)

	price, err := calc.PriceForDollarTarget(p, 10)
	require.NoError(t, err)
	assert.Equal(t, 50900.0, price)
	assert.InDelta(t, 8.0, calc.FeeBuffer(p), 1e-9)
	assert.InDelta(t, 10.0, calc.NetPnL(p, price), 0.01)
}

func TestPriceForDollarTarget_Short(t *testing.T) {
	calc := NewTargetCalculator(0.0008)
	p := testPosition(contracts.SideShort)

	price, err := calc.PriceForDollarTarget(p, 10)
	require.NoError(t, err)
	assert.Equal(t, 49100.0, price)

	loss, err := calc.PriceForDollarTarget(p, -18)
	require.NoError(t, err)
	assert.Equal(t, 50500.0, loss, "loss target lands above entry for SHORT")
}

func TestPriceForDollarTarget_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		side := contracts.SideLong
		if i%2 == 1 {
			side = contracts.SideShort
		}
		entry := 10 + rng.Float64()*90000
		qty := 0.001 + rng.Float64()*5
		lev := float64(1 + rng.Intn(50))
		fee := rng.Float64() * 0.002
		target := -50 + rng.Float64()*500

		p := &contracts.Position{
			ID: "rt", Symbol: "X", Side: side,
			EntryPrice: entry, Quantity: qty, Leverage: lev,
			Notional: Notional(entry, qty, lev),
		}

		price, err := PriceForDollarTarget(p, target, fee)
		if errors.Is(err, contracts.ErrConfiguration) {
			continue // implied non-positive price
		}
		require.NoError(t, err)
		assert.InDelta(t, target, NetPnL(p, price, fee), 0.01, "side=%s entry=%v qty=%v target=%v", side, entry, qty, target)
	}
}

func TestPriceForDollarTarget_ZeroQuantity(t *testing.T) {
	p := testPosition(contracts.SideLong)
	p.Quantity = 0

	_, err := PriceForDollarTarget(p, 10, 0.0008)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}

func TestNewPosition(t *testing.T) {
	calc := NewTargetCalculator(0.0008)
	req := contracts.OpenRequest{Symbol: "BTCUSDT", Side: contracts.SideLong, EntryPrice: 50000, Quantity: 0.02, Leverage: 10}
	now := time.Now()

	t.Run("pure rule mode uses configured dollars", func(t *testing.T) {
		cfg := contracts.DefaultExitRulesConfig()
		cfg.PureRuleMode = true
		cfg.PrimaryTargetUSD = 10
		profile := contracts.NewToleranceProfile("BTCUSDT", 4, contracts.RegimeElevated, now)

		p, err := calc.NewPosition("id-1", req, cfg, profile, now)
		require.NoError(t, err)
		assert.Equal(t, 10000.0, p.Notional)
		assert.Equal(t, 10.0, p.PrimaryTargetUSD)
		assert.Equal(t, 50900.0, p.TakeProfitPrice)
		assert.Equal(t, 49500.0, p.StopLossPrice)
		assert.Equal(t, contracts.StatusOpen, p.Status)
	})

	t.Run("regime scaling", func(t *testing.T) {
		cfg := contracts.DefaultExitRulesConfig()
		profile := contracts.NewToleranceProfile("BTCUSDT", 4, contracts.RegimeElevated, now)

		p, err := calc.NewPosition("id-2", req, cfg, profile, now)
		require.NoError(t, err)
		assert.Equal(t, 187.5, p.PrimaryTargetUSD)
		assert.Equal(t, 10.0, p.StopLossUSD, "volatile regimes never widen the stop")
		assert.Equal(t, contracts.RegimeElevated, p.Regime)
		assert.Equal(t, 49500.0, p.StopLossPrice)
	})

	t.Run("calm regime tightens the stop", func(t *testing.T) {
		cfg := contracts.DefaultExitRulesConfig()
		profile := contracts.NewToleranceProfile("BTCUSDT", 0.3, contracts.RegimeCalm, now)

		p, err := calc.NewPosition("id-4", req, cfg, profile, now)
		require.NoError(t, err)
		assert.Equal(t, 8.0, p.StopLossUSD)
	})

	t.Run("invalid request", func(t *testing.T) {
		bad := req
		bad.Quantity = -1
		_, err := calc.NewPosition("id-3", bad, contracts.DefaultExitRulesConfig(), contracts.DefaultToleranceProfile("BTCUSDT", now), now)
		assert.ErrorIs(t, err, contracts.ErrConfiguration)
	})
}

// Worst-case STOP_LOSS loss is the stop amount plus the fee buffer, in every regime
func TestStopLossBound(t *testing.T) {
	calc := NewTargetCalculator(0.0008)
	now := time.Now()

	regimes := []struct {
		regime contracts.Regime
		atrPct float64
	}{
		{contracts.RegimeCalm, 0.3},
		{contracts.RegimeNormal, 1.0},
		{contracts.RegimeElevated, 2.5},
		{contracts.RegimeHigh, 5.0},
	}

	for _, pure := range []bool{true, false} {
		cfg := contracts.DefaultExitRulesConfig()
		cfg.PureRuleMode = pure

		for _, rg := range regimes {
			for _, side := range []contracts.Side{contracts.SideLong, contracts.SideShort} {
				req := contracts.OpenRequest{Symbol: "ETHUSDT", Side: side, EntryPrice: 3000, Quantity: 1.5, Leverage: 5}
				profile := contracts.NewToleranceProfile("ETHUSDT", rg.atrPct, rg.regime, now)
				p, err := calc.NewPosition("sl-"+string(side), req, cfg, profile, now)
				require.NoError(t, err)

				loss := -calc.NetPnL(p, p.StopLossPrice)
				bound := cfg.StopLossUSD + calc.FeeBuffer(p)
				assert.LessOrEqual(t, loss, bound+0.01, "pure=%v regime=%s side=%s", pure, rg.regime, side)
				if pure {
					assert.InDelta(t, bound, loss, 0.01, "side=%s", side)
				}
			}
		}
	}
}
