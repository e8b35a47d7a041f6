package volatility

import (
	"fmt"
	"math"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// ATRPeriod 표준 ATR 기간
const ATRPeriod = 14

// 레짐 경계 (ATR%, 가격 대비)
const (
	CalmUpperPct     = 1.5
	NormalUpperPct   = 3.5
	ElevatedUpperPct = 5.5
)

// ATR computes the simple moving average of the true range over the last
// period bars. candles must be ordered oldest first and hold period+1 bars.
func ATR(candles []contracts.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: period must be positive", contracts.ErrToleranceComputation)
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("%w: need %d candles, have %d", contracts.ErrToleranceComputation, period+1, len(candles))
	}

	window := candles[len(candles)-period-1:]

	var sum float64
	for i := 1; i < len(window); i++ {
		prevClose := window[i-1].Close
		c := window[i]
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		sum += tr
	}

	atr := sum / float64(period)
	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0, fmt.Errorf("%w: non-finite ATR", contracts.ErrToleranceComputation)
	}
	return atr, nil
}

// ATRPercent returns ATR as a percent of the last close
func ATRPercent(candles []contracts.Candle, period int) (float64, error) {
	atr, err := ATR(candles, period)
	if err != nil {
		return 0, err
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0, fmt.Errorf("%w: non-positive close", contracts.ErrToleranceComputation)
	}
	return atr / last * 100, nil
}

// Classify maps an ATR percent onto a regime
func Classify(atrPct float64) contracts.Regime {
	switch {
	case atrPct < CalmUpperPct:
		return contracts.RegimeCalm
	case atrPct < NormalUpperPct:
		return contracts.RegimeNormal
	case atrPct < ElevatedUpperPct:
		return contracts.RegimeElevated
	default:
		return contracts.RegimeHigh
	}
}
