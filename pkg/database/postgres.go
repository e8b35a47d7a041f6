package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/exitengine/pkg/config"
)

// DB wraps the pgxpool.Pool
// ⭐ SSOT: DB 연결은 이 패키지에서만 생성
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, cfg *config.Config) (*DB, error) {
	if !cfg.Database.Enabled() {
		return nil, fmt.Errorf("DATABASE_URL is not configured")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// schema is applied idempotently at startup
var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS exitengine`,
	`CREATE TABLE IF NOT EXISTS exitengine.trade_outcomes (
		position_id  TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		strategy_tag TEXT NOT NULL DEFAULT '',
		entry_price  DOUBLE PRECISION NOT NULL,
		exit_price   DOUBLE PRECISION NOT NULL,
		quantity     DOUBLE PRECISION NOT NULL,
		leverage     DOUBLE PRECISION NOT NULL,
		pnl_usd      DOUBLE PRECISION NOT NULL,
		exit_reason  TEXT NOT NULL,
		regime       TEXT NOT NULL DEFAULT '',
		opened_at    TIMESTAMPTZ NOT NULL,
		closed_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_symbol_closed
		ON exitengine.trade_outcomes (symbol, closed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS exitengine.candles (
		symbol    TEXT NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		open      DOUBLE PRECISION NOT NULL,
		high      DOUBLE PRECISION NOT NULL,
		low       DOUBLE PRECISION NOT NULL,
		close     DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, open_time)
	)`,
}

// EnsureSchema creates the engine tables if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db != nil && db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping checks if the database is accessible
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// HealthStatus represents the health status of the database
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	ResponseTime  time.Duration `json:"response_time"`
	Error         string        `json:"error,omitempty"`
	TotalConns    int32         `json:"total_conns"`
	IdleConns     int32         `json:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
}

// HealthCheck pings the pool and reports its state
func (db *DB) HealthCheck(ctx context.Context) HealthStatus {
	var status HealthStatus

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.ResponseTime = time.Since(start)

	stats := db.Pool.Stat()
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()
	status.Healthy = true
	return status
}
