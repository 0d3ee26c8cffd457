// Package metrics holds the prometheus collectors shared by the scheduler,
// worker and generation pipeline. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "promptoncron"

// Enqueue sources.
const (
	SourceSchedule = "schedule"
	SourceManual   = "manual"
	SourceRequeue  = "requeue"
)

// Model attempt outcomes.
const (
	AttemptSuccess   = "success"
	AttemptRetryable = "retryable"
	AttemptFatal     = "fatal"
)

type Metrics struct {
	runsEnqueued  *prometheus.CounterVec
	claims        *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	modelAttempts *prometheus.CounterVec
	scheduledJobs prometheus.Gauge
}

// New creates the collectors and registers them with reg, or the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_enqueued_total",
				Help:      "Runs inserted in queued state",
			},
			[]string{"source"},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_claims_total",
				Help:      "Worker claim attempts that selected a run",
			},
			[]string{"outcome"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Runs that reached a terminal state",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time from claim to terminal write",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		modelAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_attempts_total",
				Help:      "Model provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		scheduledJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs",
				Help:      "Live cron jobs held by the scheduler",
			},
		),
	}

	reg.MustRegister(
		m.runsEnqueued,
		m.claims,
		m.runsFinished,
		m.runDuration,
		m.modelAttempts,
		m.scheduledJobs,
	)

	return m
}

func (m *Metrics) RunEnqueued(source string) {
	if m == nil {
		return
	}
	m.runsEnqueued.WithLabelValues(source).Inc()
}

func (m *Metrics) RunClaimed(skipped bool) {
	if m == nil {
		return
	}
	outcome := "claimed"
	if skipped {
		outcome = "overlap"
	}
	m.claims.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RunFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) ModelAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.modelAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) SetScheduledJobs(n int) {
	if m == nil {
		return
	}
	m.scheduledJobs.Set(float64(n))
}
