package contracts

import (
	"context"
	"time"
)

// PriceSource 시세 조회 (멱등, 부작용 없음)
// 실패 시 ErrPriceUnavailable 로 감싼 오류 반환
type PriceSource interface {
	Name() string
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// CloseRequest 시장가 청산 요청
type CloseRequest struct {
	PositionID   string
	Symbol       string
	Side         Side
	Quantity     float64
	Reason       ExitReason
	MarkPrice    float64 // 결정 시점 시세
	TriggerPrice float64 // 보호성 청산의 기준가
}

// Fill 체결 결과
type Fill struct {
	OrderID  string
	Price    float64
	FilledAt time.Time
}

// OrderExecutor 청산 주문 실행
// ⭐ SSOT: close_at_market 인터페이스
type OrderExecutor interface {
	CloseAtMarket(ctx context.Context, req CloseRequest) (*Fill, error)
}

// TradeOutcomeSink 청산 완료 결과 수신
type TradeOutcomeSink interface {
	Record(ctx context.Context, outcome TradeOutcome) error
}

// Candle OHLC 봉
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
}

// CandleProvider 최근 OHLC 히스토리 제공 (오래된 순)
type CandleProvider interface {
	RecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// ToleranceProvider 변동성 프로필 제공 (절대 실패하지 않음)
type ToleranceProvider interface {
	Profile(ctx context.Context, symbol string) *ToleranceProfile
}
