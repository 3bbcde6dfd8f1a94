// Package telemetry exposes prometheus instrumentation for sweep execution.
// The engine core stays free of metrics; only the sweep runner, which is a
// long-lived process concern, reports here.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sweep collectors. Construct once per process and pass by
// reference; registration happens against the registerer the caller owns.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter
	Fallbacks     prometheus.Counter
	RunDuration   prometheus.Histogram
	TradesPerRun  prometheus.Histogram
}

// New creates and registers the sweep collectors. A nil registerer leaves
// the collectors unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "sweep",
			Name:      "runs_started_total",
			Help:      "Simulations submitted to the sweep runner.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "sweep",
			Name:      "runs_completed_total",
			Help:      "Simulations that completed successfully.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "sweep",
			Name:      "runs_failed_total",
			Help:      "Simulations that returned an error.",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "sweep",
			Name:      "computation_fallbacks_total",
			Help:      "Numeric fallbacks applied inside completed simulations.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradesim",
			Subsystem: "sweep",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of one simulation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		TradesPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradesim",
			Subsystem: "sweep",
			Name:      "trades_per_run",
			Help:      "Closed trades produced by one simulation.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RunsStarted, m.RunsCompleted, m.RunsFailed,
			m.Fallbacks, m.RunDuration, m.TradesPerRun,
		)
	}
	return m
}
