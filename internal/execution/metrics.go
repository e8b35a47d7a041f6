package execution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// Metrics exposes the monitor's Prometheus series:
//
//	exitengine_ticks_total                   monitor ticks completed
//	exitengine_tick_errors_total{kind}       per-position failures (price, close, panic, store)
//	exitengine_price_fetch_seconds           latency of the price fallback chain
//	exitengine_exits_total{reason,side}      positions closed
//	exitengine_close_failures_total          market closes that failed and were rolled back
//	exitengine_open_positions                positions OPEN after the last tick
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticks         prometheus.Counter
	tickErrors    *prometheus.CounterVec
	priceFetch    prometheus.Histogram
	exits         *prometheus.CounterVec
	closeFailures prometheus.Counter
	openPositions prometheus.Gauge
}

// NewMetrics creates the series and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitengine_ticks_total",
			Help: "Monitor ticks completed",
		}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitengine_tick_errors_total",
			Help: "Per-position failures during a tick",
		}, []string{"kind"}),
		priceFetch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exitengine_price_fetch_seconds",
			Help:    "Latency of the price fallback chain",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitengine_exits_total",
			Help: "Positions closed split by reason and side",
		}, []string{"reason", "side"}),
		closeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitengine_close_failures_total",
			Help: "Market closes that failed and were rolled back to OPEN",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exitengine_open_positions",
			Help: "Positions OPEN after the last tick",
		}),
	}

	reg.MustRegister(m.ticks, m.tickErrors, m.priceFetch, m.exits, m.closeFailures, m.openPositions)
	return m
}

func (m *Metrics) tick(open int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.openPositions.Set(float64(open))
}

func (m *Metrics) tickError(kind string) {
	if m == nil {
		return
	}
	m.tickErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) fetched(d time.Duration) {
	if m == nil {
		return
	}
	m.priceFetch.Observe(d.Seconds())
}

func (m *Metrics) exited(reason contracts.ExitReason, side contracts.Side) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(string(reason), string(side)).Inc()
}

func (m *Metrics) closeFailed() {
	if m == nil {
		return
	}
	m.closeFailures.Inc()
}
