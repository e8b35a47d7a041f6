package execution

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// Repository persists trade outcomes
// ⭐ SSOT: 청산 결과 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new trade outcome repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record implements contracts.TradeOutcomeSink.
// Re-recording the same position overwrites the earlier row.
func (r *Repository) Record(ctx context.Context, o contracts.TradeOutcome) error {
	query := `
		INSERT INTO exitengine.trade_outcomes (
			position_id, symbol, side, strategy_tag, entry_price, exit_price,
			quantity, leverage, pnl_usd, exit_reason, regime, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (position_id) DO UPDATE SET
			exit_price = EXCLUDED.exit_price,
			pnl_usd = EXCLUDED.pnl_usd,
			exit_reason = EXCLUDED.exit_reason,
			closed_at = EXCLUDED.closed_at
	`

	_, err := r.pool.Exec(ctx, query,
		o.PositionID, o.Symbol, string(o.Side), o.StrategyTag, o.EntryPrice, o.ExitPrice,
		o.Quantity, o.Leverage, o.PnLUSD, string(o.ExitReason), o.Regime.String(), o.OpenedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade outcome: %w", err)
	}

	return nil
}

// Recent returns the latest outcomes, newest first. An empty symbol means all symbols.
func (r *Repository) Recent(ctx context.Context, symbol string, limit int) ([]contracts.TradeOutcome, error) {
	query := `
		SELECT position_id, symbol, side, strategy_tag, entry_price, exit_price,
			quantity, leverage, pnl_usd, exit_reason, regime, opened_at, closed_at
		FROM exitengine.trade_outcomes
		WHERE ($1::text = '' OR symbol = $1)
		ORDER BY closed_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []contracts.TradeOutcome
	for rows.Next() {
		var o contracts.TradeOutcome
		var side, reason, regime string
		if err := rows.Scan(
			&o.PositionID, &o.Symbol, &side, &o.StrategyTag, &o.EntryPrice, &o.ExitPrice,
			&o.Quantity, &o.Leverage, &o.PnLUSD, &reason, &regime, &o.OpenedAt, &o.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade outcome: %w", err)
		}
		o.Side = contracts.Side(side)
		o.ExitReason = contracts.ExitReason(reason)
		if rg, err := contracts.ParseRegime(regime); err == nil {
			o.Regime = rg
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return outcomes, nil
}

// LogSink records outcomes to the log only (used when no database is configured)
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log-only outcome sink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Component("outcomes")}
}

// Record implements contracts.TradeOutcomeSink
func (s *LogSink) Record(_ context.Context, o contracts.TradeOutcome) error {
	s.logger.WithFields(map[string]interface{}{
		"position_id": o.PositionID,
		"symbol":      o.Symbol,
		"side":        string(o.Side),
		"exit_reason": string(o.ExitReason),
		"exit_price":  o.ExitPrice,
		"pnl_usd":     o.PnLUSD,
		"regime":      o.Regime.String(),
	}).Info("Trade outcome")
	return nil
}

// MultiSink fans an outcome out to several sinks; every sink is called
type MultiSink []contracts.TradeOutcomeSink

// Record implements contracts.TradeOutcomeSink and returns the first error
func (m MultiSink) Record(ctx context.Context, o contracts.TradeOutcome) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, o); err != nil && first == nil {
			first = err
		}
	}
	return first
}
