package exit

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// TargetCalculator converts dollar targets into price levels.
// ⭐ SSOT: 달러 목표 -> 가격 변환은 여기서만 (수수료 반영)
//
// net_pnl = (price - entry) × qty × dir - notional × fee_rate_round_trip
type TargetCalculator struct {
	feeRate decimal.Decimal
}

// NewTargetCalculator creates a calculator for a round-trip fee rate on notional
func NewTargetCalculator(feeRateRoundTrip float64) *TargetCalculator {
	return &TargetCalculator{feeRate: decimal.NewFromFloat(feeRateRoundTrip)}
}

// FeeRate returns the round-trip fee rate
func (c *TargetCalculator) FeeRate() float64 {
	return c.feeRate.InexactFloat64()
}

// PriceForDollarTarget returns the price at which the position's net PnL equals targetNetUSD
func (c *TargetCalculator) PriceForDollarTarget(p *contracts.Position, targetNetUSD float64) (float64, error) {
	return PriceForDollarTarget(p, targetNetUSD, c.FeeRate())
}

// NetPnL returns the fee-adjusted PnL of the position at price
func (c *TargetCalculator) NetPnL(p *contracts.Position, price float64) float64 {
	return NetPnL(p, price, c.FeeRate())
}

// FeeBuffer returns notional × fee rate for the position
func (c *TargetCalculator) FeeBuffer(p *contracts.Position) float64 {
	return decimal.NewFromFloat(p.Notional).Mul(c.feeRate).InexactFloat64()
}

// PriceForDollarTarget computes
//
//	required_gross = target_net + notional × fee
//	price          = entry ± required_gross / quantity
//
// A negative target lands on the losing side of entry.
func PriceForDollarTarget(p *contracts.Position, targetNetUSD, feeRateRoundTrip float64) (float64, error) {
	if p.Quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive (position %s)", contracts.ErrConfiguration, p.ID)
	}

	qty := decimal.NewFromFloat(p.Quantity)
	gross := decimal.NewFromFloat(targetNetUSD).
		Add(decimal.NewFromFloat(p.Notional).Mul(decimal.NewFromFloat(feeRateRoundTrip)))
	delta := gross.Div(qty)

	entry := decimal.NewFromFloat(p.EntryPrice)
	var price decimal.Decimal
	if p.Side == contracts.SideShort {
		price = entry.Sub(delta)
	} else {
		price = entry.Add(delta)
	}

	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: target %.2f USD implies non-positive price for %s", contracts.ErrConfiguration, targetNetUSD, p.Symbol)
	}
	return price.InexactFloat64(), nil
}

// NetPnL computes the fee-adjusted PnL at price
func NetPnL(p *contracts.Position, price, feeRateRoundTrip float64) float64 {
	move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	if p.Side == contracts.SideShort {
		move = move.Neg()
	}
	gross := move.Mul(decimal.NewFromFloat(p.Quantity))
	fee := decimal.NewFromFloat(p.Notional).Mul(decimal.NewFromFloat(feeRateRoundTrip))
	return gross.Sub(fee).Round(8).InexactFloat64()
}

// Notional returns entry × qty × leverage
func Notional(entryPrice, quantity, leverage float64) float64 {
	return decimal.NewFromFloat(entryPrice).
		Mul(decimal.NewFromFloat(quantity)).
		Mul(decimal.NewFromFloat(leverage)).
		InexactFloat64()
}

// =============================================================================
// Position opening
// =============================================================================

// NewPosition builds a position with all exit parameters computed from the rule
// set and the symbol's tolerance profile. Outside pure rule mode the dollar target
// and stop are scaled by the regime's tp/sl multipliers.
func (c *TargetCalculator) NewPosition(id string, req contracts.OpenRequest, cfg *contracts.ExitRulesConfig, profile *contracts.ToleranceProfile, now time.Time) (*contracts.Position, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := &contracts.Position{
		ID:          id,
		Symbol:      req.Symbol,
		Side:        req.Side,
		StrategyTag: req.StrategyTag,
		EntryPrice:  req.EntryPrice,
		Quantity:    req.Quantity,
		Leverage:    req.Leverage,
		Notional:    Notional(req.EntryPrice, req.Quantity, req.Leverage),
		Regime:      profile.Regime,
		Status:      contracts.StatusOpen,
		OpenedAt:    now,
	}

	target := cfg.PrimaryTargetUSD
	stop := cfg.StopLossFor(req.EntryPrice, req.Quantity)
	if !cfg.PureRuleMode {
		target *= profile.TPMult
		// 레짐은 손절을 좁힐 수만 있음 (손실 상한 = 설정 손절 + 수수료)
		stop *= math.Min(1, profile.SLMult)
	}

	// 목표는 플로어보다 위에 있어야 함
	if target <= cfg.AbsoluteFloorUSD {
		target = cfg.PrimaryTargetUSD
	}

	p.PrimaryTargetUSD = round2(target)
	p.AbsoluteFloorUSD = cfg.AbsoluteFloorUSD
	p.StopLossUSD = round2(stop)

	tp, err := c.PriceForDollarTarget(p, p.PrimaryTargetUSD)
	if err != nil {
		return nil, err
	}
	p.TakeProfitPrice = tp

	// stop sits where the loss equals the stop amount plus the fee buffer
	sl, err := c.PriceForDollarTarget(p, -(p.StopLossUSD + c.FeeBuffer(p)))
	if err != nil {
		return nil, err
	}
	p.StopLossPrice = sl

	return p, nil
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
