package contracts

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Position
// ⭐ SSOT: 포지션 데이터는 여기서만
// =============================================================================

// Side 포지션 방향
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Direction returns +1 for LONG and -1 for SHORT
func (s Side) Direction() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// ParseSide parses a side case-insensitively (buy/sell accepted)
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return SideLong, nil
	case "SHORT", "SELL":
		return SideShort, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrConfiguration, s)
}

// PositionStatus 포지션 생명주기 (OPEN -> CLOSING -> CLOSED, 실패 시 CLOSING -> OPEN)
type PositionStatus string

const (
	StatusOpen    PositionStatus = "OPEN"
	StatusClosing PositionStatus = "CLOSING"
	StatusClosed  PositionStatus = "CLOSED"
)

// ExitReason 청산 사유
type ExitReason string

const (
	ExitReasonPrimaryTarget  ExitReason = "PRIMARY_TARGET"   // 1순위: 목표 순이익 도달
	ExitReasonFloorViolation ExitReason = "FLOOR_VIOLATION"  // 2순위: 보호 플로어 하회
	ExitReasonTrailingStop   ExitReason = "TRAILING_STOP"    // 3순위: 캡 이후 ATR 트레일링
	ExitReasonStopLoss       ExitReason = "STOP_LOSS"        // 4순위: 손절가 돌파
	ExitReasonSafetyTimeExit ExitReason = "SAFETY_TIME_EXIT" // 5순위: 장기 보유 + 손실
	ExitReasonTargetTouch    ExitReason = "TARGET_TOUCH"     // 적응형: 목표 근접 후 되돌림
	ExitReasonBreakeven      ExitReason = "BREAKEVEN"        // 적응형: 손익분기 보호
	ExitReasonManual         ExitReason = "MANUAL"           // 수동 청산
)

// Protective reports whether the exit is a resting-stop style exit
// that fills at its trigger price rather than the current quote.
func (r ExitReason) Protective() bool {
	switch r {
	case ExitReasonFloorViolation, ExitReasonTrailingStop, ExitReasonStopLoss:
		return true
	}
	return false
}

// TrailingState 포지션별 트레일링 상태 (TrailingStopController 소유)
type TrailingState struct {
	HighestProfitEver float64   `json:"highest_profit_ever"`
	FloorActivated    bool      `json:"floor_activated"`
	FloorUSD          float64   `json:"dynamic_trailing_floor_usd"`
	LastRatchetTime   time.Time `json:"last_ratchet_time"`

	// 캡 도달 후 ATR 트레일링 스탑 가격 (0 = 미설정)
	TrailStopPrice float64 `json:"trail_stop_price"`

	// TARGET_TOUCH 추적
	TargetTouched  bool    `json:"target_touched"`
	BestTouchPrice float64 `json:"best_touch_price"`
}

// CapReached reports whether the dollar-step floor has reached the cap
func (t TrailingState) CapReached(capUSD float64) bool {
	return t.FloorActivated && t.FloorUSD >= capUSD
}

// Position 관리 중인 레버리지 포지션
type Position struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	StrategyTag string `json:"strategy_tag"`

	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   float64 `json:"leverage"`
	Notional   float64 `json:"notional"` // entry × qty × leverage, fixed at open

	// 진입 시 계산된 청산 파라미터
	PrimaryTargetUSD float64 `json:"primary_target_usd"`
	AbsoluteFloorUSD float64 `json:"absolute_floor_usd"`
	StopLossUSD      float64 `json:"stop_loss_usd"`
	TakeProfitPrice  float64 `json:"take_profit_price"`
	StopLossPrice    float64 `json:"stop_loss_price"`
	Regime           Regime  `json:"regime"`

	Trailing TrailingState `json:"trailing"`

	// 마지막 평가 시점
	LastPrice        float64   `json:"last_price"`
	UnrealizedPnLUSD float64   `json:"unrealized_pnl_usd"`
	LastEvaluatedAt  time.Time `json:"last_evaluated_at"`

	Status         PositionStatus `json:"status"`
	ExitReason     ExitReason     `json:"exit_reason,omitempty"`
	ExitPrice      float64        `json:"exit_price,omitempty"`
	RealizedPnLUSD float64        `json:"realized_pnl_usd"`
	CloseFailures  int            `json:"close_failures"`
	OpenedAt       time.Time      `json:"opened_at"`
	ClosedAt       time.Time      `json:"closed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with p
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// Age returns how long the position has been open at now
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// OpenRequest 진입 생산자가 전달하는 포지션 개시 요청
type OpenRequest struct {
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	EntryPrice  float64 `json:"entry_price"`
	Quantity    float64 `json:"quantity"`
	Leverage    float64 `json:"leverage"`
	StrategyTag string  `json:"strategy_tag"`
}

// Validate checks the entry parameters
func (r OpenRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrConfiguration)
	}
	if r.Side != SideLong && r.Side != SideShort {
		return fmt.Errorf("%w: side must be LONG or SHORT", ErrConfiguration)
	}
	if r.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price must be positive", ErrConfiguration)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrConfiguration)
	}
	if r.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be at least 1", ErrConfiguration)
	}
	return nil
}

// Decision 평가기가 반환하는 청산 결정 (틱당 포지션별 최대 1개)
type Decision struct {
	PositionID   string     `json:"position_id"`
	Reason       ExitReason `json:"reason"`
	CurrentPrice float64    `json:"current_price"`
	TriggerPrice float64    `json:"trigger_price"` // 보호성 청산의 체결 기준가
	NetPnLUSD    float64    `json:"net_pnl_usd"`
	Message      string     `json:"message"`
	DecidedAt    time.Time  `json:"decided_at"`
}

// TradeOutcome 청산 완료 결과 (외부 저장/ML 소비용)
type TradeOutcome struct {
	PositionID  string     `json:"position_id"`
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	StrategyTag string     `json:"strategy_tag"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Quantity    float64    `json:"quantity"`
	Leverage    float64    `json:"leverage"`
	PnLUSD      float64    `json:"pnl_usd"`
	ExitReason  ExitReason `json:"exit_reason"`
	Regime      Regime     `json:"regime"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    time.Time  `json:"closed_at"`
}

// OutcomeOf builds the outcome record for a closed position
func OutcomeOf(p *Position) TradeOutcome {
	return TradeOutcome{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		StrategyTag: p.StrategyTag,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		Quantity:    p.Quantity,
		Leverage:    p.Leverage,
		PnLUSD:      p.RealizedPnLUSD,
		ExitReason:  p.ExitReason,
		Regime:      p.Regime,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
}
