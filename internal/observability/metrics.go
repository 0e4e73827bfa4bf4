package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	UpstreamErrors     *prometheus.CounterVec
	AvatarStartLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of room sessions currently tracked by the bridge.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream failures by startup stage.",
		}, []string{"stage"}),
		AvatarStartLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "avatar_start_latency_ms",
			Help:      "Time from start request to avatar_active in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
	}
}

func (m *Metrics) ObserveAvatarStartLatency(d time.Duration) {
	m.AvatarStartLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
