package exit

import (
	"fmt"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// Evaluator applies the exit rule hierarchy, first match wins:
//
//	1. PRIMARY_TARGET    net >= primary target
//	2. FLOOR_VIOLATION   floor active and net < floor
//	3. TRAILING_STOP     cap reached and price crossed the ATR trail
//	4. STOP_LOSS         floor inactive and price crossed the stop price
//	5. SAFETY_TIME_EXIT  age > max and loss beyond threshold
//
// Outside pure rule mode TARGET_TOUCH and BREAKEVEN follow the core rules.
type Evaluator struct {
	cfg  *contracts.ExitRulesConfig
	calc *TargetCalculator
}

// NewEvaluator creates an evaluator for a rule set
func NewEvaluator(cfg *contracts.ExitRulesConfig, calc *TargetCalculator) *Evaluator {
	return &Evaluator{cfg: cfg, calc: calc}
}

// Evaluate returns at most one decision for p at price, or nil to hold.
// Trailing state must already be updated for this tick.
func (e *Evaluator) Evaluate(p *contracts.Position, price float64, profile *contracts.ToleranceProfile, now time.Time) *contracts.Decision {
	net := e.calc.NetPnL(p, price)

	checks := []func(*contracts.Position, float64, float64, *contracts.ToleranceProfile, time.Time) *contracts.Decision{
		e.checkPrimaryTarget,
		e.checkFloor,
		e.checkTrailingStop,
		e.checkStopLoss,
		e.checkSafetyTime,
	}
	if !e.cfg.PureRuleMode {
		checks = append(checks, e.checkTargetTouch, e.checkBreakeven)
	}

	for _, check := range checks {
		if d := check(p, price, net, profile, now); d != nil {
			d.PositionID = p.ID
			d.CurrentPrice = price
			d.NetPnLUSD = net
			d.DecidedAt = now
			if d.TriggerPrice == 0 {
				d.TriggerPrice = price
			}
			return d
		}
	}
	return nil
}

func (e *Evaluator) checkPrimaryTarget(p *contracts.Position, _ float64, net float64, _ *contracts.ToleranceProfile, _ time.Time) *contracts.Decision {
	if net < p.PrimaryTargetUSD {
		return nil
	}
	return &contracts.Decision{
		Reason:       contracts.ExitReasonPrimaryTarget,
		TriggerPrice: p.TakeProfitPrice,
		Message:      fmt.Sprintf("net %.2f >= target %.2f", net, p.PrimaryTargetUSD),
	}
}

func (e *Evaluator) checkFloor(p *contracts.Position, _ float64, net float64, _ *contracts.ToleranceProfile, _ time.Time) *contracts.Decision {
	t := p.Trailing
	if !t.FloorActivated || net >= t.FloorUSD {
		return nil
	}
	trigger, err := e.calc.PriceForDollarTarget(p, t.FloorUSD)
	if err != nil {
		trigger = 0
	}
	return &contracts.Decision{
		Reason:       contracts.ExitReasonFloorViolation,
		TriggerPrice: trigger,
		Message:      fmt.Sprintf("net %.2f < floor %.2f (peak %.2f)", net, t.FloorUSD, t.HighestProfitEver),
	}
}

func (e *Evaluator) checkTrailingStop(p *contracts.Position, price float64, _ float64, _ *contracts.ToleranceProfile, _ time.Time) *contracts.Decision {
	t := p.Trailing
	if !t.CapReached(e.cfg.TrailingCapUSD) || t.TrailStopPrice <= 0 {
		return nil
	}
	if !crossed(p.Side, price, t.TrailStopPrice) {
		return nil
	}
	return &contracts.Decision{
		Reason:       contracts.ExitReasonTrailingStop,
		TriggerPrice: t.TrailStopPrice,
		Message:      fmt.Sprintf("price %.4f crossed trail %.4f", price, t.TrailStopPrice),
	}
}

func (e *Evaluator) checkStopLoss(p *contracts.Position, price float64, _ float64, _ *contracts.ToleranceProfile, _ time.Time) *contracts.Decision {
	if p.Trailing.FloorActivated || p.StopLossPrice <= 0 {
		return nil
	}
	if !crossed(p.Side, price, p.StopLossPrice) {
		return nil
	}
	return &contracts.Decision{
		Reason:       contracts.ExitReasonStopLoss,
		TriggerPrice: p.StopLossPrice,
		Message:      fmt.Sprintf("price %.4f crossed stop %.4f", price, p.StopLossPrice),
	}
}

// checkSafetyTime never closes a profitable position on age alone
func (e *Evaluator) checkSafetyTime(p *contracts.Position, _ float64, net float64, _ *contracts.ToleranceProfile, now time.Time) *contracts.Decision {
	age := p.Age(now)
	if age <= e.cfg.SafetyMaxAge || net >= -e.cfg.SafetyLossThresholdUSD {
		return nil
	}
	return &contracts.Decision{
		Reason:  contracts.ExitReasonSafetyTimeExit,
		Message: fmt.Sprintf("age %s > %s with net %.2f", age.Round(time.Minute), e.cfg.SafetyMaxAge, net),
	}
}

func (e *Evaluator) checkTargetTouch(p *contracts.Position, price float64, net float64, profile *contracts.ToleranceProfile, _ time.Time) *contracts.Decision {
	t := p.Trailing
	if !t.TargetTouched || t.BestTouchPrice <= 0 || net <= 0 {
		return nil
	}
	retreatPct := (t.BestTouchPrice - price) * p.Side.Direction() / t.BestTouchPrice * 100
	if retreatPct < profile.CloseTolerancePct {
		return nil
	}
	return &contracts.Decision{
		Reason:  contracts.ExitReasonTargetTouch,
		Message: fmt.Sprintf("retreated %.2f%% from touch %.4f", retreatPct, t.BestTouchPrice),
	}
}

func (e *Evaluator) checkBreakeven(p *contracts.Position, _ float64, net float64, profile *contracts.ToleranceProfile, _ time.Time) *contracts.Decision {
	if e.cfg.BreakevenTriggerUSD <= 0 || p.Trailing.FloorActivated || net > 0 {
		return nil
	}
	trigger := e.cfg.BreakevenTriggerUSD * profile.BEMult
	if p.Trailing.HighestProfitEver < trigger {
		return nil
	}
	return &contracts.Decision{
		Reason:  contracts.ExitReasonBreakeven,
		Message: fmt.Sprintf("peak %.2f >= %.2f, back to %.2f", p.Trailing.HighestProfitEver, trigger, net),
	}
}
