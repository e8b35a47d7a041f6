package handlers

import (
	"context"
	"net/http"

	"github.com/wonny/aegis/exitengine/internal/execution"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/internal/scheduler"
	"github.com/wonny/aegis/exitengine/internal/strategyconfig"
)

// HealthChecker reports the health of a dependency (database, redis)
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MonitorHandler handles health and status endpoints
type MonitorHandler struct {
	monitor   *execution.PositionMonitor
	quotes    *cache.PriceCache
	scheduler *scheduler.Scheduler
	rules     *strategyconfig.RulesSnapshot
	checks    map[string]HealthChecker
}

// NewMonitorHandler creates a new monitor handler. quotes, sched and rules may be nil.
func NewMonitorHandler(monitor *execution.PositionMonitor, quotes *cache.PriceCache, sched *scheduler.Scheduler, rules *strategyconfig.RulesSnapshot) *MonitorHandler {
	return &MonitorHandler{
		monitor:   monitor,
		quotes:    quotes,
		scheduler: sched,
		rules:     rules,
		checks:    make(map[string]HealthChecker),
	}
}

// AddHealthCheck registers a dependency checked by /health
func (h *MonitorHandler) AddHealthCheck(name string, c HealthChecker) {
	h.checks[name] = c
}

// Health returns 200 while the monitor loop runs and every dependency answers
// GET /health
func (h *MonitorHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.monitor.Stats()
	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))

	for name, c := range h.checks {
		if err := c.Ping(r.Context()); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	if !stats.Running {
		status = http.StatusServiceUnavailable
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       state,
		"service":      "exitengine",
		"monitor":      stats.Running,
		"dependencies": deps,
	})
}

// Status returns monitor counters, quote cache and job statistics
// GET /api/monitor/status
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"monitor": h.monitor.Stats(),
		"rules":   h.monitor.Config(),
	}
	if h.rules != nil {
		resp["rules_id"] = h.rules.RulesID
		resp["rules_hash"] = h.rules.ConfigHash
	}
	if h.quotes != nil {
		resp["quote_cache"] = h.quotes.Stats()
	}
	if h.scheduler != nil {
		resp["jobs"] = h.scheduler.GetJobStats()
	}

	respondJSON(w, http.StatusOK, resp)
}
