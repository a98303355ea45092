package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request processing latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *HTTPMetrics) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		status := strconv.Itoa(rw.status)
		path := r.URL.Path
		m.requestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// IngestMetrics counts webhook outcomes per provider.
type IngestMetrics struct {
	eventsTotal   *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
}

func NewIngestMetrics() *IngestMetrics {
	return &IngestMetrics{
		eventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailwatch",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Canonical events normalized from provider webhooks.",
		}, []string{"provider", "kind"}),
		rejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailwatch",
			Subsystem: "webhooks",
			Name:      "rejected_total",
			Help:      "Webhook calls rejected or dropped before dispatch.",
		}, []string{"provider", "reason"}),
	}
}

func (m *IngestMetrics) EventNormalized(provider, kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(provider, kind).Inc()
}

func (m *IngestMetrics) Rejected(provider, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(provider, reason).Inc()
}
