package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/metrics"
)

func TestMetrics_Recorders(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.TaskStarted("retry")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.TasksRunning.WithLabelValues("retry")), 0)

	m.TaskFinished("retry", true, 2*time.Second)
	m.TaskSkipped("retry")
	m.TaskSkipped("retry")
	m.Attempt("buyback", false)
	m.Exhausted("buyback")
	m.FallbackWritten("burn")
	m.FallbackDrained(3)
	m.Cleaned(4)

	assert.InDelta(t, 0.0, testutil.ToFloat64(m.TasksRunning.WithLabelValues("retry")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.TaskRunsTotal.WithLabelValues("retry", "success")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.SkippedRunsTotal.WithLabelValues("retry")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("buyback", "failure")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ExhaustedTotal.WithLabelValues("buyback")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.FallbackWritesTotal.WithLabelValues("burn")), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.FallbackDrainedTotal), 0)
	assert.InDelta(t, 4.0, testutil.ToFloat64(m.CleanedTotal), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.TaskStarted("x")
		m.TaskFinished("x", false, time.Second)
		m.TaskSkipped("x")
		m.Enqueued("burn")
		m.OperationResult("burn", true)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.TaskSkipped("buyback")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `flywheel_scheduler_skipped_runs_total{task="buyback"} 1`))
}
