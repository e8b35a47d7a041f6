package exit

import (
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// Engine bundles the calculator, trailing controller and evaluator for one rule set
type Engine struct {
	Config    *contracts.ExitRulesConfig
	Calc      *TargetCalculator
	Trailing  *TrailingStopController
	Evaluator *Evaluator
}

// NewEngine validates cfg and wires the exit components
func NewEngine(cfg *contracts.ExitRulesConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	calc := NewTargetCalculator(cfg.FeeRateRoundTrip)
	return &Engine{
		Config:    cfg,
		Calc:      calc,
		Trailing:  NewTrailingStopController(cfg, calc),
		Evaluator: NewEvaluator(cfg, calc),
	}, nil
}

// Step runs the trailing controller and then the evaluator on the working copy p
func (e *Engine) Step(p *contracts.Position, price float64, profile *contracts.ToleranceProfile, now time.Time) (*contracts.Decision, TrailingResult) {
	res := e.Trailing.Update(p, price, profile, now)
	p.LastPrice = price
	p.UnrealizedPnLUSD = res.NetPnLUSD
	p.LastEvaluatedAt = now
	return e.Evaluator.Evaluate(p, price, profile, now), res
}

// Open builds a new position for req
func (e *Engine) Open(id string, req contracts.OpenRequest, profile *contracts.ToleranceProfile, now time.Time) (*contracts.Position, error) {
	return e.Calc.NewPosition(id, req, e.Config, profile, now)
}
