package volatility

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// DBCandleProvider DB에서 OHLC 히스토리 조회
type DBCandleProvider struct {
	pool *pgxpool.Pool
}

// NewDBCandleProvider 새 DB Candle Provider 생성
func NewDBCandleProvider(pool *pgxpool.Pool) *DBCandleProvider {
	return &DBCandleProvider{pool: pool}
}

// RecentCandles returns the last limit candles of symbol, oldest first
func (p *DBCandleProvider) RecentCandles(ctx context.Context, symbol string, limit int) ([]contracts.Candle, error) {
	query := `
		SELECT open_time, open, high, low, close
		FROM exitengine.candles
		WHERE symbol = $1
		ORDER BY open_time DESC
		LIMIT $2
	`

	rows, err := p.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	var candles []contracts.Candle
	for rows.Next() {
		var c contracts.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candles: %w", err)
	}

	// DESC -> 오래된 순
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// SaveCandles upserts candles of symbol
func (p *DBCandleProvider) SaveCandles(ctx context.Context, symbol string, candles []contracts.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	query := `
		INSERT INTO exitengine.candles (symbol, open_time, open, high, low, close)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, open_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close
	`

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(query, symbol, c.OpenTime, c.Open, c.High, c.Low, c.Close)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert candles for %s: %w", symbol, err)
		}
	}
	return nil
}

// FallbackCandleProvider reads from primary and falls back to secondary
type FallbackCandleProvider struct {
	primary   contracts.CandleProvider
	secondary contracts.CandleProvider
}

// NewFallbackCandleProvider chains two candle providers
func NewFallbackCandleProvider(primary, secondary contracts.CandleProvider) *FallbackCandleProvider {
	return &FallbackCandleProvider{primary: primary, secondary: secondary}
}

// RecentCandles tries primary first; a short or failed read goes to secondary
func (f *FallbackCandleProvider) RecentCandles(ctx context.Context, symbol string, limit int) ([]contracts.Candle, error) {
	candles, err := f.primary.RecentCandles(ctx, symbol, limit)
	if err == nil && len(candles) >= limit {
		return candles, nil
	}
	if f.secondary == nil {
		if err != nil {
			return nil, err
		}
		return candles, nil
	}
	return f.secondary.RecentCandles(ctx, symbol, limit)
}
