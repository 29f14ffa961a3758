package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordUnit(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordUnit("node_rpc", "sent")
	m.RecordUnit("node_rpc", "sent")
	m.RecordUnit("node_rpc", "failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DisbursementsTotal.WithLabelValues("node_rpc", "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DisbursementsTotal.WithLabelValues("node_rpc", "failed")))
}

func TestMetrics_RecordRun(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordRun("hosted_api", "completed", 2*time.Second)
	m.RecordRun("", "aborted", time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DisbursementRuns.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DisbursementRuns.WithLabelValues("aborted")))
}

func TestMetrics_SetBreakerState(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.SetBreakerState("node_rpc", 2, "open")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("node_rpc")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerRequests.WithLabelValues("node_rpc", "open")))
}

func TestMetrics_RecordMessage(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordMessage("orders:payment_completed", "processed", 300*time.Millisecond)
	m.RecordMessage("orders:payment_completed", "locked", time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkerMessagesProcessed.WithLabelValues("orders:payment_completed", "processed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WorkerProcessingDuration))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordUnit("b", "o")
		m.ObserveBackend("b", "ok", time.Second)
		m.RecordRun("m", "r", time.Second)
		m.RecordAddressValidation("static", true)
		m.SetBreakerState("b", 0, "closed")
		m.SetOutboxPending(3)
		m.RecordMessage("s", "ok", time.Second)
		m.RecordOutbox("e", "published")
		m.RecordNotification("queued")
	})
}
