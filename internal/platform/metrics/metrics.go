package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide Prometheus metrics. Domain modules register
// their own counters in per-module metrics packages.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers process-wide metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trapper_http_request_duration_seconds",
			Help:    "HTTP request latency by path and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "status"}),
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one request observation.
func (m *Metrics) ObserveRequest(path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(path, status).Observe(d.Seconds())
}
