package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RunEnqueued(SourceSchedule)
	m.RunEnqueued(SourceSchedule)
	m.RunEnqueued(SourceManual)
	m.RunClaimed(false)
	m.RunClaimed(true)
	m.RunFinished("success", 2*time.Second)
	m.ModelAttempt("openai", AttemptRetryable)
	m.SetScheduledJobs(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsEnqueued.WithLabelValues(SourceSchedule)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsEnqueued.WithLabelValues(SourceManual)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("overlap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelAttempts.WithLabelValues("openai", AttemptRetryable)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.scheduledJobs))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunEnqueued(SourceManual)
		m.RunClaimed(true)
		m.RunFinished("failed", time.Second)
		m.ModelAttempt("gemini", AttemptFatal)
		m.SetScheduledJobs(1)
	})
}
