package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// ProfileRefresher rebuilds tolerance profiles (volatility.Builder)
type ProfileRefresher interface {
	Refresh(ctx context.Context, symbols []string) int
}

// ProfileRefreshJob keeps tolerance profiles fresh for every watched symbol
// ⭐ SSOT: 변동성 프로필 갱신 스케줄은 이 Job에서만
type ProfileRefreshJob struct {
	profiles ProfileRefresher
	symbols  SymbolSource
	watch    []string
	logger   *logger.Logger
}

// NewProfileRefreshJob creates a profile refresh job
func NewProfileRefreshJob(profiles ProfileRefresher, symbols SymbolSource, watch []string, log *logger.Logger) *ProfileRefreshJob {
	return &ProfileRefreshJob{
		profiles: profiles,
		symbols:  symbols,
		watch:    watch,
		logger:   log,
	}
}

// Name returns the job name
func (j *ProfileRefreshJob) Name() string {
	return "tolerance_profile_refresh"
}

// Schedule returns the cron schedule (every 10 minutes)
func (j *ProfileRefreshJob) Schedule() string {
	return "0 */10 * * * *"
}

// Run rebuilds the profiles; a symbol whose build fails keeps the default profile
func (j *ProfileRefreshJob) Run(ctx context.Context) error {
	symbols, err := watchedSymbols(ctx, j.symbols, j.watch)
	if err != nil {
		return fmt.Errorf("failed to list symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil
	}

	refreshed := j.profiles.Refresh(ctx, symbols)

	j.logger.WithFields(map[string]interface{}{
		"symbols":   len(symbols),
		"refreshed": refreshed,
	}).Info("Tolerance profiles refreshed")

	return nil
}
