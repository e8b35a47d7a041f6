package contracts

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Volatility Regime
// ⭐ SSOT: 레짐별 배수 테이블은 여기서만
// =============================================================================

// Regime 변동성 구간
type Regime int

const (
	RegimeCalm Regime = iota
	RegimeNormal
	RegimeElevated
	RegimeHigh
)

// RegimeParams 레짐별 배수
type RegimeParams struct {
	TPMult      float64 // 목표 익절 배수
	SLMult      float64 // 손절 배수
	TrailMult   float64 // 캡 이후 ATR 트레일 배수
	BEMult      float64 // 손익분기 트리거 배수
	TouchFactor float64 // touch_tolerance = atr% × factor
}

// Params returns the multiplier set of the regime.
// Unknown values resolve to NORMAL.
func (r Regime) Params() RegimeParams {
	switch r {
	case RegimeCalm:
		return RegimeParams{TPMult: 0.8, SLMult: 0.8, TrailMult: 1.5, BEMult: 0.8, TouchFactor: 0.30}
	case RegimeElevated:
		return RegimeParams{TPMult: 1.25, SLMult: 1.2, TrailMult: 2.5, BEMult: 1.2, TouchFactor: 0.20}
	case RegimeHigh:
		return RegimeParams{TPMult: 1.5, SLMult: 1.4, TrailMult: 3.0, BEMult: 1.5, TouchFactor: 0.15}
	default:
		return RegimeParams{TPMult: 1.0, SLMult: 1.0, TrailMult: 2.0, BEMult: 1.0, TouchFactor: 0.25}
	}
}

func (r Regime) String() string {
	switch r {
	case RegimeCalm:
		return "CALM"
	case RegimeNormal:
		return "NORMAL"
	case RegimeElevated:
		return "ELEVATED"
	case RegimeHigh:
		return "HIGH"
	}
	return fmt.Sprintf("Regime(%d)", int(r))
}

// ParseRegime parses a regime name
func ParseRegime(s string) (Regime, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALM":
		return RegimeCalm, nil
	case "NORMAL":
		return RegimeNormal, nil
	case "ELEVATED":
		return RegimeElevated, nil
	case "HIGH":
		return RegimeHigh, nil
	}
	return RegimeNormal, fmt.Errorf("unknown regime %q", s)
}

// MarshalText encodes the regime by name
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a regime name
func (r *Regime) UnmarshalText(text []byte) error {
	parsed, err := ParseRegime(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// =============================================================================
// Tolerance Profile
// =============================================================================

const (
	// 허용 오차 범위 (퍼센트 단위)
	MinTouchTolerancePct = 0.25
	MaxTouchTolerancePct = 2.0
	MinCloseTolerancePct = 0.2
	CloseToleranceRatio  = 0.8

	// 기본 프로필 ATR% (히스토리 부족 시)
	DefaultATRPercent = 2.5
)

// ToleranceProfile 심볼별 변동성 프로필
// ⭐ SSOT: 모든 허용오차/배수는 이 프로필에서만 파생
type ToleranceProfile struct {
	Symbol     string  `json:"symbol"`
	ATRPercent float64 `json:"atr_pct"` // ATR ÷ price × 100
	Regime     Regime  `json:"regime"`

	TPMult    float64 `json:"tp_mult"`
	SLMult    float64 `json:"sl_mult"`
	TrailMult float64 `json:"trail_mult"`
	BEMult    float64 `json:"be_mult"`

	TouchTolerancePct float64 `json:"touch_tolerance_pct"`
	CloseTolerancePct float64 `json:"close_tolerance_pct"`

	Fallback   bool      `json:"fallback"` // 기본 프로필 여부
	ComputedAt time.Time `json:"computed_at"`
}

// NewToleranceProfile derives a bounded profile from an ATR percent.
// Non-positive or non-finite ATR falls back to the default ATR percent.
func NewToleranceProfile(symbol string, atrPct float64, regime Regime, now time.Time) *ToleranceProfile {
	fallback := false
	if !(atrPct > 0) || atrPct > 1000 {
		// 기본 ATR 은 NORMAL 구간이므로 레짐도 함께 교체
		atrPct = DefaultATRPercent
		regime = RegimeNormal
		fallback = true
	}
	params := regime.Params()

	touch := clamp(atrPct*params.TouchFactor, MinTouchTolerancePct, MaxTouchTolerancePct)
	closeTol := touch * CloseToleranceRatio
	if closeTol < MinCloseTolerancePct {
		closeTol = MinCloseTolerancePct
	}

	return &ToleranceProfile{
		Symbol:            symbol,
		ATRPercent:        atrPct,
		Regime:            regime,
		TPMult:            params.TPMult,
		SLMult:            params.SLMult,
		TrailMult:         params.TrailMult,
		BEMult:            params.BEMult,
		TouchTolerancePct: touch,
		CloseTolerancePct: closeTol,
		ComputedAt:        now,
		Fallback:          fallback,
	}
}

// DefaultToleranceProfile 보수적 기본 프로필 (NORMAL)
func DefaultToleranceProfile(symbol string, now time.Time) *ToleranceProfile {
	p := NewToleranceProfile(symbol, DefaultATRPercent, RegimeNormal, now)
	p.Fallback = true
	return p
}

// ATRAbs converts the ATR percent into a price distance at price
func (p *ToleranceProfile) ATRAbs(price float64) float64 {
	return p.ATRPercent / 100 * price
}

// Expired reports whether the profile is older than ttl at now
func (p *ToleranceProfile) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.ComputedAt) >= ttl
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
