package contracts

import (
	"fmt"
	"time"
)

// =============================================================================
// Exit Rules Configuration (달러 목표 + 플로어 + 하이브리드 트레일링)
// ⭐ SSOT: 청산규칙 설정은 여기서만
// =============================================================================

// ExitRulesConfig 청산 규칙 설정
type ExitRulesConfig struct {
	// ===== 목표/플로어 (순이익 USD, 수수료 차감 후) =====
	PrimaryTargetUSD float64 `json:"primary_target_usd" yaml:"primary_target_usd"`
	AbsoluteFloorUSD float64 `json:"absolute_floor_usd" yaml:"absolute_floor_usd"`

	// ===== 손절 (둘 중 하나) =====
	StopLossUSD float64 `json:"stop_loss_usd" yaml:"stop_loss_usd"` // 최대 손실 USD
	StopLossPct float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"` // 진입가 대비 % (StopLossUSD 미설정 시)

	// ===== 달러 스텝 트레일링 =====
	TrailingIncrementUSD float64       `json:"trailing_increment_usd" yaml:"trailing_increment_usd"`
	TrailingCapUSD       float64       `json:"trailing_cap_usd" yaml:"trailing_cap_usd"`
	HysteresisPct        float64       `json:"hysteresis_pct" yaml:"hysteresis_pct"` // 진입가 대비 비율 (0.0005 = 0.05%)
	RatchetCooldown      time.Duration `json:"ratchet_cooldown" yaml:"ratchet_cooldown"`

	// ===== 수수료 (왕복, 명목금액 대비) =====
	FeeRateRoundTrip float64 `json:"fee_rate_round_trip" yaml:"fee_rate_round_trip"`

	// ===== 안전 시간 청산 =====
	SafetyMaxAge           time.Duration `json:"safety_max_age" yaml:"safety_max_age"`
	SafetyLossThresholdUSD float64       `json:"safety_loss_threshold_usd" yaml:"safety_loss_threshold_usd"`

	// ===== 적응형 청산 (pure_rule_mode 에서 비활성) =====
	PureRuleMode        bool    `json:"pure_rule_mode" yaml:"pure_rule_mode"`
	BreakevenTriggerUSD float64 `json:"breakeven_trigger_usd" yaml:"breakeven_trigger_usd"`

	// ===== 모니터링 =====
	TickInterval        time.Duration `json:"tick_interval" yaml:"tick_interval"`
	PriceRetryAttempts  int           `json:"price_retry_attempts" yaml:"price_retry_attempts"`
	PriceRetryBackoff   time.Duration `json:"price_retry_backoff" yaml:"price_retry_backoff"`
	QuoteTTL            time.Duration `json:"quote_ttl" yaml:"quote_ttl"`
	ProfileTTL          time.Duration `json:"profile_ttl" yaml:"profile_ttl"`
	RestartBackoff      time.Duration `json:"restart_backoff" yaml:"restart_backoff"`
	HealthLogEveryTicks int           `json:"health_log_every_ticks" yaml:"health_log_every_ticks"`

	// ===== 알림 에스컬레이션 =====
	PriceFailureAlertThreshold int `json:"price_failure_alert_threshold" yaml:"price_failure_alert_threshold"`
	CloseFailureAlertThreshold int `json:"close_failure_alert_threshold" yaml:"close_failure_alert_threshold"`
}

// DefaultExitRulesConfig 기본 청산 규칙 설정 반환
func DefaultExitRulesConfig() *ExitRulesConfig {
	return &ExitRulesConfig{
		PrimaryTargetUSD: 150,
		AbsoluteFloorUSD: 7,

		StopLossUSD: 10,

		// $10 스텝, $100 캡 이후 ATR 트레일링
		TrailingIncrementUSD: 10,
		TrailingCapUSD:       100,
		HysteresisPct:        0.0005,

		// 한 틱보다 짧게 (TickInterval 5s): 틱마다 래칫 가능
		RatchetCooldown: 4 * time.Second,

		// 0.04% × 2
		FeeRateRoundTrip: 0.0008,

		SafetyMaxAge:           48 * time.Hour,
		SafetyLossThresholdUSD: 5,

		PureRuleMode:        false,
		BreakevenTriggerUSD: 5,

		TickInterval:        5 * time.Second,
		PriceRetryAttempts:  3,
		PriceRetryBackoff:   200 * time.Millisecond,
		QuoteTTL:            30 * time.Second,
		ProfileTTL:          30 * time.Minute,
		RestartBackoff:      5 * time.Second,
		HealthLogEveryTicks: 12,

		PriceFailureAlertThreshold: 3,
		CloseFailureAlertThreshold: 3,
	}
}

// Validate checks ordering and ranges; violations are configuration errors
func (c *ExitRulesConfig) Validate() error {
	if c.PrimaryTargetUSD <= 0 {
		return fmt.Errorf("%w: primary_target_usd must be positive", ErrConfiguration)
	}
	if c.AbsoluteFloorUSD <= 0 || c.AbsoluteFloorUSD >= c.PrimaryTargetUSD {
		return fmt.Errorf("%w: absolute_floor_usd must be in (0, primary_target_usd)", ErrConfiguration)
	}
	if c.StopLossUSD <= 0 && c.StopLossPct <= 0 {
		return fmt.Errorf("%w: one of stop_loss_usd or stop_loss_pct is required", ErrConfiguration)
	}
	if c.StopLossUSD < 0 || c.StopLossPct < 0 || c.StopLossPct >= 100 {
		return fmt.Errorf("%w: stop loss out of range", ErrConfiguration)
	}
	if c.TrailingIncrementUSD <= 0 {
		return fmt.Errorf("%w: trailing_increment_usd must be positive", ErrConfiguration)
	}
	if c.TrailingCapUSD < c.TrailingIncrementUSD || c.TrailingCapUSD < c.AbsoluteFloorUSD {
		return fmt.Errorf("%w: trailing_cap_usd must be >= trailing_increment_usd and absolute_floor_usd", ErrConfiguration)
	}
	if c.HysteresisPct < 0 || c.HysteresisPct >= 0.05 {
		return fmt.Errorf("%w: hysteresis_pct must be in [0, 0.05)", ErrConfiguration)
	}
	if c.RatchetCooldown < 0 {
		return fmt.Errorf("%w: ratchet_cooldown must not be negative", ErrConfiguration)
	}
	if c.FeeRateRoundTrip < 0 || c.FeeRateRoundTrip >= 0.01 {
		return fmt.Errorf("%w: fee_rate_round_trip must be in [0, 0.01)", ErrConfiguration)
	}
	if c.SafetyMaxAge <= 0 {
		return fmt.Errorf("%w: safety_max_age must be positive", ErrConfiguration)
	}
	if c.SafetyLossThresholdUSD < 0 {
		return fmt.Errorf("%w: safety_loss_threshold_usd must not be negative", ErrConfiguration)
	}
	if c.BreakevenTriggerUSD < 0 {
		return fmt.Errorf("%w: breakeven_trigger_usd must not be negative", ErrConfiguration)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrConfiguration)
	}
	if c.PriceRetryAttempts < 1 {
		return fmt.Errorf("%w: price_retry_attempts must be at least 1", ErrConfiguration)
	}
	if c.PriceRetryBackoff < 0 || c.RestartBackoff < 0 {
		return fmt.Errorf("%w: backoff must not be negative", ErrConfiguration)
	}
	if c.QuoteTTL <= 0 || c.ProfileTTL <= 0 {
		return fmt.Errorf("%w: quote_ttl and profile_ttl must be positive", ErrConfiguration)
	}
	return nil
}

// StopLossFor returns the stop-loss dollar amount for an entry before regime scaling
func (c *ExitRulesConfig) StopLossFor(entryPrice, quantity float64) float64 {
	if c.StopLossUSD > 0 {
		return c.StopLossUSD
	}
	return entryPrice * quantity * c.StopLossPct / 100
}
