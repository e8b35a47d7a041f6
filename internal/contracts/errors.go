package contracts

import "errors"

// =============================================================================
// Error taxonomy
// ⭐ SSOT: 청산 엔진 오류 분류는 여기서만
// =============================================================================

var (
	// ErrPriceUnavailable 시세 조회 실패 (재시도 가능, 이번 틱은 건너뜀)
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrExecution 청산 주문 실패 (CLOSING -> OPEN 롤백 후 다음 틱 재시도)
	ErrExecution = errors.New("execution failed")

	// ErrConfiguration 설정 오류 (시작 시 치명적)
	ErrConfiguration = errors.New("invalid configuration")

	// ErrToleranceComputation 변동성 프로필 계산 실패 (기본 프로필로 대체)
	ErrToleranceComputation = errors.New("tolerance computation failed")

	ErrPositionNotFound = errors.New("position not found")
	ErrStoreClosed      = errors.New("position store closed")
)
