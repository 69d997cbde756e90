package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome of one fire of a task.
type Outcome string

const (
	OutcomeRan        Outcome = "ran"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeLost       Outcome = "lost"
	OutcomeStoreError Outcome = "store_error"
	OutcomeCancelled  Outcome = "cancelled"
)

type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// NewMetrics registers collectors on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskfleet_executions_total",
			Help: "Task fires by outcome.",
		}, []string{"task", "profile", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskfleet_execution_duration_seconds",
			Help:    "Duration of task bodies that ran on this node.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"task", "profile"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskfleet_executions_in_flight",
			Help: "Task executions currently running on this node.",
		}),
	}
}

func (m *Metrics) observe(task, profile string, outcome Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(task, profile, string(outcome)).Inc()
	if outcome == OutcomeRan || outcome == OutcomeFailed {
		m.duration.WithLabelValues(task, profile).Observe(took.Seconds())
	}
}

func (m *Metrics) running(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
