package jobs

import (
	"context"

	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// CacheCleanupJob drops quotes older than the cache TTL
type CacheCleanupJob struct {
	cache  *cache.PriceCache
	logger *logger.Logger
}

// NewCacheCleanupJob creates a new cache cleanup job
func NewCacheCleanupJob(priceCache *cache.PriceCache, log *logger.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache:  priceCache,
		logger: log,
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "quote_cache_cleanup"
}

// Schedule returns the cron schedule (every minute)
func (j *CacheCleanupJob) Schedule() string {
	return "0 * * * * *"
}

// Run executes the cache cleanup
func (j *CacheCleanupJob) Run(_ context.Context) error {
	count := j.cache.CleanStale()
	if count > 0 {
		stats := j.cache.Stats()
		j.logger.WithFields(map[string]interface{}{
			"removed":   count,
			"remaining": stats.TotalCount,
		}).Info("Quote cache cleanup completed")
	}
	return nil
}
