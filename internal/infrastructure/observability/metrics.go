package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

// Metrics is the service's Prometheus surface. Every recording method is a
// no-op on a nil *Metrics, which is what callers get when metrics are off.
type Metrics struct {
	DisbursementsTotal     *prometheus.CounterVec
	DisbursementRuns       *prometheus.CounterVec
	DisbursementDuration   *prometheus.HistogramVec
	BackendRequestDuration *prometheus.HistogramVec
	AdminNotifications     *prometheus.CounterVec
	AddressValidations     *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
	OutboxPublished          *prometheus.CounterVec
	OutboxPending            prometheus.Gauge
}

// NewMetrics registers the collectors on reg, or on the default registerer
// when reg is nil. Registering twice on one registry panics.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		DisbursementsTotal:     counter("disbursements_total", "Payable units handled, by backend and outcome", "backend", "outcome"),
		DisbursementRuns:       counter("disbursement_runs_total", "Order disbursement runs, by result", "result"),
		DisbursementDuration:   histogram("disbursement_duration_seconds", "Order disbursement run duration", runBuckets, "mode"),
		BackendRequestDuration: histogram("backend_request_duration_seconds", "Backend send duration", []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30}, "backend", "result"),
		AdminNotifications:     counter("admin_notifications_total", "Admin notifications, by status", "status"),
		AddressValidations:     counter("address_validations_total", "Address validations, by source and result", "source", "valid"),

		HTTPRequestsTotal:   counter("http_requests_total", "HTTP requests", "method", "path", "status"),
		HTTPRequestDuration: histogram("http_request_duration_seconds", "HTTP request duration", prometheus.DefBuckets, "method", "path"),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Backend breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		CircuitBreakerRequests: counter("circuit_breaker_transitions_total", "Backend breaker transitions, by target state", "name", "state"),

		WorkerMessagesProcessed:  counter("worker_messages_processed_total", "Stream messages handled, by status", "stream", "status"),
		WorkerProcessingDuration: histogram("worker_processing_duration_seconds", "Stream message handling duration", runBuckets, "stream"),
		OutboxPublished:          counter("outbox_published_total", "Outbox entries relayed, by event type and status", "event_type", "status"),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbox entries waiting to be relayed",
		}),
	}
}

func (m *Metrics) RecordUnit(backend, outcome string) {
	if m == nil {
		return
	}
	m.DisbursementsTotal.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) ObserveBackend(backend, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestDuration.WithLabelValues(backend, result).Observe(d.Seconds())
}

func (m *Metrics) RecordRun(mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.DisbursementRuns.WithLabelValues(result).Inc()
	m.DisbursementDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) RecordAddressValidation(source string, valid bool) {
	if m == nil {
		return
	}
	m.AddressValidations.WithLabelValues(source, strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) RecordNotification(status string) {
	if m == nil {
		return
	}
	m.AdminNotifications.WithLabelValues(status).Inc()
}

// SetBreakerState publishes a breaker transition.
func (m *Metrics) SetBreakerState(name string, state int, transition string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	m.CircuitBreakerRequests.WithLabelValues(name, transition).Inc()
}

// RecordMessage counts one handled stream message and its handling time.
func (m *Metrics) RecordMessage(stream, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkerMessagesProcessed.WithLabelValues(stream, status).Inc()
	m.WorkerProcessingDuration.WithLabelValues(stream).Observe(d.Seconds())
}

func (m *Metrics) RecordOutbox(eventType, status string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType, status).Inc()
}

// SetOutboxPending publishes the relay backlog.
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}
