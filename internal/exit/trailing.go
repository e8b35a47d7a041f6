package exit

import (
	"math"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// TrailingStopController owns the dollar-step profit floor and the ATR
// trailing stop that takes over once the floor reaches the cap.
// It only produces state; it never closes a position.
type TrailingStopController struct {
	cfg  *contracts.ExitRulesConfig
	calc *TargetCalculator
}

// TrailingResult 틱별 트레일링 결과
type TrailingResult struct {
	NetPnLUSD  float64
	FloorPrice float64 // 0 before floor activation
	Activated  bool    // floor activated on this tick
	Ratcheted  bool    // floor moved on this tick
	CapReached bool
}

// NewTrailingStopController creates a controller for a rule set
func NewTrailingStopController(cfg *contracts.ExitRulesConfig, calc *TargetCalculator) *TrailingStopController {
	return &TrailingStopController{cfg: cfg, calc: calc}
}

// Update advances the trailing state of p for the current price.
// p must be the caller's working copy.
func (c *TrailingStopController) Update(p *contracts.Position, price float64, profile *contracts.ToleranceProfile, now time.Time) TrailingResult {
	t := &p.Trailing
	profit := c.calc.NetPnL(p, price)
	res := TrailingResult{NetPnLUSD: profit}

	// 1. 최고 수익 갱신 (단조 증가)
	if profit > t.HighestProfitEver {
		t.HighestProfitEver = profit
	}

	// 2. 플로어 활성화 (한 번만)
	if !t.FloorActivated && t.HighestProfitEver >= p.AbsoluteFloorUSD {
		t.FloorActivated = true
		t.FloorUSD = math.Min(p.AbsoluteFloorUSD, c.cfg.TrailingCapUSD)
		res.Activated = true
	}

	// 3. 스텝 래칫
	if t.FloorActivated {
		res.Ratcheted = c.ratchet(p, now)
	}

	// 4. 캡 도달 -> ATR 트레일링
	if t.CapReached(c.cfg.TrailingCapUSD) {
		res.CapReached = true
		c.trail(p, price, profile)
	}

	c.trackTouch(p, price, profile)

	if t.FloorActivated {
		if fp, err := c.calc.PriceForDollarTarget(p, t.FloorUSD); err == nil {
			res.FloorPrice = fp
		}
	}
	return res
}

// ratchet moves the floor up the step grid. The floor sits on multiples of the
// step increment; a grid level is taken only once the highest profit clears it
// by the hysteresis buffer. Cooldown is checked once per tick, so one event may
// advance several steps.
func (c *TrailingStopController) ratchet(p *contracts.Position, now time.Time) bool {
	t := &p.Trailing
	capUSD := c.cfg.TrailingCapUSD
	step := c.cfg.TrailingIncrementUSD

	if t.FloorUSD >= capUSD || step <= 0 {
		return false
	}
	if !t.LastRatchetTime.IsZero() && now.Sub(t.LastRatchetTime) < c.cfg.RatchetCooldown {
		return false
	}

	hysteresis := c.cfg.HysteresisPct * p.EntryPrice * p.Quantity

	moved := false
	for t.FloorUSD < capUSD {
		next := (math.Floor(t.FloorUSD/step+1e-9) + 1) * step
		next = math.Min(next, capUSD)
		if t.HighestProfitEver < next+hysteresis {
			break
		}
		t.FloorUSD = next
		moved = true
	}

	if moved {
		t.LastRatchetTime = now
	}
	return moved
}

// trail tightens the post-cap stop: the tighter of the locked-cap price and
// trail_mult × ATR away from the current price. The stop never loosens.
func (c *TrailingStopController) trail(p *contracts.Position, price float64, profile *contracts.ToleranceProfile) {
	t := &p.Trailing

	locked, err := c.calc.PriceForDollarTarget(p, c.cfg.TrailingCapUSD)
	if err != nil {
		return
	}

	dir := p.Side.Direction()
	atrStop := price - dir*profile.TrailMult*profile.ATRAbs(price)

	candidate := locked
	if tighter(p.Side, atrStop, locked) {
		candidate = atrStop
	}

	if t.TrailStopPrice == 0 || tighter(p.Side, candidate, t.TrailStopPrice) {
		t.TrailStopPrice = candidate
	}
}

// trackTouch marks the take-profit zone as touched and records the best price since
func (c *TrailingStopController) trackTouch(p *contracts.Position, price float64, profile *contracts.ToleranceProfile) {
	t := &p.Trailing
	if p.TakeProfitPrice <= 0 {
		return
	}

	if !t.TargetTouched {
		gapPct := (p.TakeProfitPrice - price) * p.Side.Direction() / p.TakeProfitPrice * 100
		if gapPct <= profile.TouchTolerancePct {
			t.TargetTouched = true
			t.BestTouchPrice = price
		}
		return
	}

	if t.BestTouchPrice == 0 || tighter(p.Side, price, t.BestTouchPrice) {
		t.BestTouchPrice = price
	}
}

// tighter reports whether a is closer to the market than b on the protective side
func tighter(side contracts.Side, a, b float64) bool {
	if side == contracts.SideShort {
		return a < b
	}
	return a > b
}

// crossed reports whether price has reached a protective stop level
func crossed(side contracts.Side, price, stop float64) bool {
	if side == contracts.SideShort {
		return price >= stop
	}
	return price <= stop
}
