package observability

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk mesin invoicing.
type Metrics struct {
	registry    *prometheus.Registry
	handler     http.Handler
	cacheEvents *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	cacheEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_memo_cache_events_total",
		Help: "Cache events (hit/miss/coalesced) per key class.",
	}, []string{"event", "class"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_invoice_submissions_total",
		Help: "Invoice draft submissions by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(cacheEvents, submissions)
	return &Metrics{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		cacheEvents: cacheEvents,
		submissions: submissions,
	}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// keyClass strips the key down to its prefix, e.g. "invoices:PO-1" →
// "invoices", keeping cardinality bounded.
func keyClass(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}

// Hit implements cache.Recorder.
func (m *Metrics) Hit(key string) {
	m.cacheEvents.WithLabelValues("hit", keyClass(key)).Inc()
}

// Miss implements cache.Recorder.
func (m *Metrics) Miss(key string) {
	m.cacheEvents.WithLabelValues("miss", keyClass(key)).Inc()
}

// Coalesced implements cache.Recorder.
func (m *Metrics) Coalesced(key string) {
	m.cacheEvents.WithLabelValues("coalesced", keyClass(key)).Inc()
}

// Submission implements invoicing.SubmissionRecorder.
func (m *Metrics) Submission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}
