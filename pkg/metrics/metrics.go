// Package metrics defines the Prometheus collectors exported by fakemesh.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fakemesh"

// Metrics holds all Prometheus metrics for fakemesh.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	HandshakeFailures prometheus.Counter
	TraceSinkErrors   prometheus.Counter
	AuthFailures      *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	MessagesAcked     prometheus.Counter
	ChunksStored      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "code"}, // code=2xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of open client connections",
			},
		),
		ConnectionsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted TCP connections",
			},
		),
		HandshakeFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tls_handshake_failures_total",
				Help:      "Total number of failed TLS handshakes",
			},
		),
		TraceSinkErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_sink_errors_total",
				Help:      "Total requests aborted because the trace sink failed",
			},
		),
		AuthFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total rejected mailbox authentications",
			},
			[]string{"reason"}, // reason=missing/malformed/mismatch/replay
		),
		MessagesSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total messages accepted into an outbox",
			},
		),
		MessagesAcked: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_acknowledged_total",
				Help:      "Total messages acknowledged and removed from an inbox",
			},
		),
		ChunksStored: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_stored_total",
				Help:      "Total message chunks written to storage",
			},
		),
	}
}

// NewNop returns metrics registered with a private registry. Useful when a
// component requires metrics but nothing scrapes them.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Handler serves the metrics gathered by g in the Prometheus exposition
// format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
