package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors for the line task daemon.
type Metrics struct {
	PhaseTicks       *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	GoalsSent        *prometheus.CounterVec
	GoalsCanceled    *prometheus.CounterVec
	GoalResults      *prometheus.CounterVec
	RunsFinished     *prometheus.CounterVec
	AlignAttempts    prometheus.Histogram
	HeadingError     prometheus.Gauge
	LinkLines        *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on the default registry.
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - linetask_phase_ticks_total{phase}
//   - linetask_phase_transitions_total{from,to}
//   - linetask_motion_goals_total{axis}
//   - linetask_motion_cancels_total{axis}
//   - linetask_motion_results_total{axis,reached}
//   - linetask_runs_total{phase}
//   - linetask_align_attempts
//   - linetask_heading_error_degrees
//   - linetask_link_lines_total{type}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PhaseTicks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_phase_ticks_total",
					Help: "Poll loop ticks spent in each phase",
				},
				[]string{"phase"},
			),
			PhaseTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_phase_transitions_total",
					Help: "Phase transitions taken by the controller",
				},
				[]string{"from", "to"},
			),
			GoalsSent: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_motion_goals_total",
					Help: "Motion goals sent per axis",
				},
				[]string{"axis"},
			),
			GoalsCanceled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_motion_cancels_total",
					Help: "Motion goal cancellations per axis",
				},
				[]string{"axis"},
			),
			GoalResults: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_motion_results_total",
					Help: "Terminal motion results observed by waiters",
				},
				[]string{"axis", "reached"},
			),
			RunsFinished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_runs_total",
					Help: "Finished task runs by terminal phase",
				},
				[]string{"phase"},
			),
			AlignAttempts: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "linetask_align_attempts",
					Help:    "Turn goals needed to align with the line",
					Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
				},
			),
			HeadingError: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "linetask_heading_error_degrees",
					Help: "Latest heading error sampled by the poll loop",
				},
			),
			LinkLines: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "linetask_link_lines_total",
					Help: "Lines received from the vehicle bridge by message type",
				},
				[]string{"type"},
			),
		}
	})
	return globalMetrics
}
