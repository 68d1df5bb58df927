// Package prometheus holds the Prometheus-backed metrics implementations.
package prometheus

import (
	"github.com/marmos91/dittonet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// tcpMetrics is the Prometheus implementation of metrics.ServerMetrics.
type tcpMetrics struct {
	framesTotal         *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
	frameSize           prometheus.Histogram
	heartbeatsSent      prometheus.Counter
	sessionErrors       *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsRejected prometheus.Counter
}

// NewTCPMetrics creates Prometheus-backed server metrics.
//
// Returns a no-op implementation if metrics are not enabled.
func NewTCPMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}

	reg := metrics.GetRegistry()

	return &tcpMetrics{
		framesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonet_frames_total",
				Help: "Total number of frames by direction",
			},
			[]string{"direction"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonet_bytes_total",
				Help: "Total frame bytes by direction",
			},
			[]string{"direction"},
		),
		frameSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittonet_inbound_frame_size_bytes",
				Help: "Size of inbound frame bodies in bytes",
				Buckets: []float64{
					64,
					512,
					4096,
					32768,
					262144,
					1048576,
					10485760,
				},
			},
		),
		heartbeatsSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonet_heartbeats_sent_total",
				Help: "Total number of heartbeat frames queued",
			},
		),
		sessionErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonet_session_errors_total",
				Help: "Total number of session failures by class",
			},
			[]string{"class"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonet_active_sessions",
				Help: "Current number of registered sessions",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonet_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonet_connections_closed_total",
				Help: "Total number of closed sessions",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonet_connections_rejected_total",
				Help: "Total number of connections dropped before a session was created",
			},
		),
	}
}

func (m *tcpMetrics) RecordFrameReceived(bytes int) {
	m.framesTotal.WithLabelValues("in").Inc()
	m.bytesTotal.WithLabelValues("in").Add(float64(bytes))
	m.frameSize.Observe(float64(bytes))
}

func (m *tcpMetrics) RecordFrameSent(bytes int) {
	m.framesTotal.WithLabelValues("out").Inc()
	m.bytesTotal.WithLabelValues("out").Add(float64(bytes))
}

func (m *tcpMetrics) RecordHeartbeatSent() {
	m.heartbeatsSent.Inc()
}

func (m *tcpMetrics) RecordSessionError(class string) {
	m.sessionErrors.WithLabelValues(class).Inc()
}

func (m *tcpMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *tcpMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *tcpMetrics) RecordConnectionRejected() {
	m.connectionsRejected.Inc()
}

func (m *tcpMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}
