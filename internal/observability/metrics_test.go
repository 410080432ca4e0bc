package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_recordStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordStep("classify", "retry", 10*time.Millisecond)
	m.RecordStep("classify", "retry", 10*time.Millisecond)
	m.RecordStep("classify", "ok", 10*time.Millisecond)
	m.RecordRun("succeeded")

	if got := testutil.ToFloat64(m.WorkflowStepAttemptsTotal.WithLabelValues("classify", "retry")); got != 2 {
		t.Errorf("retry attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WorkflowRunsTotal.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("succeeded runs = %v, want 1", got)
	}
}

func TestMetrics_nilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "NOT_FOUND")
	m.RecordRun("failed")
	m.RecordStep("fetch", "ok", time.Millisecond)
	m.RecordPublish("ok")
}
