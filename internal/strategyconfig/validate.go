package strategyconfig

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

var rulesIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap classifies every validation failure as a configuration error
func (e ValidationError) Unwrap() error {
	return contracts.ErrConfiguration
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.RulesID == "" {
		return ValidationError{"meta.rules_id", "required"}
	}
	if !rulesIDPattern.MatchString(cfg.Meta.RulesID) {
		return ValidationError{"meta.rules_id", "must be lowercase letters, digits, '_', '-' or '.'"}
	}

	// === Exit ===
	if err := cfg.Exit.Validate(); err != nil {
		msg := strings.TrimPrefix(err.Error(), contracts.ErrConfiguration.Error()+": ")
		return ValidationError{"exit", msg}
	}
	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning
	e := cfg.Exit

	// 플로어가 너무 얇으면 슬리피지에 잠식
	if e.AbsoluteFloorUSD < 2 {
		warnings = append(warnings, Warning{
			Code:    "THIN_FLOOR",
			Message: "absolute floor below 2 USD: floor exits barely clear slippage",
		})
	}

	// 캡이 목표보다 크면 ATR 트레일링이 발동하지 않음
	if e.TrailingCapUSD >= e.PrimaryTargetUSD {
		warnings = append(warnings, Warning{
			Code:    "CAP_ABOVE_TARGET",
			Message: "trailing cap >= primary target: ATR trailing never engages",
		})
	}

	if e.TickInterval > e.QuoteTTL {
		warnings = append(warnings, Warning{
			Code:    "TICK_SLOWER_THAN_QUOTE_TTL",
			Message: "tick interval exceeds quote TTL: cached fallback prices expire between ticks",
		})
	}

	if time.Duration(e.PriceRetryAttempts-1)*e.PriceRetryBackoff > e.TickInterval {
		warnings = append(warnings, Warning{
			Code:    "RETRY_BUDGET_EXCEEDS_TICK",
			Message: "price retries can outlast one tick interval",
		})
	}

	if e.RatchetCooldown > e.TickInterval {
		warnings = append(warnings, Warning{
			Code:    "COOLDOWN_EXCEEDS_TICK",
			Message: "ratchet cooldown exceeds tick interval: some ticks cannot advance the floor",
		})
	}

	if e.PureRuleMode {
		warnings = append(warnings, Warning{
			Code:    "PURE_RULE_MODE",
			Message: "adaptive exits and regime scaling disabled",
		})
	}

	return warnings
}
