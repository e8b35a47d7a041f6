package realtime

import "time"

// Quote represents the last traded price of a symbol
// ⭐ SSOT: 실시간 시세 데이터 구조
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`   // "STREAM", "PRIMARY", "SECONDARY", "SHARED"
	IsStale   bool      `json:"is_stale"` // 오래된 데이터 여부
}

// QuoteSource represents the origin of a quote
type QuoteSource string

const (
	SourceStream    QuoteSource = "STREAM"
	SourcePrimary   QuoteSource = "PRIMARY"
	SourceSecondary QuoteSource = "SECONDARY"
	SourceShared    QuoteSource = "SHARED"
)

// Priority returns priority for source (higher = better)
func (s QuoteSource) Priority() int {
	switch s {
	case SourceStream:
		return 4
	case SourcePrimary:
		return 3
	case SourceSecondary:
		return 2
	case SourceShared:
		return 1
	default:
		return 0
	}
}

// StreamMessage is one ticker frame of the exchange stream
type StreamMessage struct {
	Type   string  `json:"type"` // "ticker", "subscribed", "error"
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"` // unix millis
	Error  string  `json:"error,omitempty"`
}

// Time returns the exchange timestamp capped at received; absent stamps
// fall back to received. A skewed exchange clock must not make the quote
// newer than later REST updates.
func (m StreamMessage) Time(received time.Time) time.Time {
	if m.TS <= 0 {
		return received
	}
	ts := time.UnixMilli(m.TS)
	if ts.After(received) {
		return received
	}
	return ts
}
