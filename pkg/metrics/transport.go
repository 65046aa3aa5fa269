package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransportMetrics provides observability for the RPC transport.
//
// The transport server takes this interface and works identically
// whether it gets a Prometheus-backed instance or the no-op one.
type TransportMetrics interface {
	// RecordRequest records one completed request: its operation name,
	// processing duration, and the status code it answered with.
	RecordRequest(op string, duration time.Duration, status int32)

	// RecordBytes records payload bytes moved over the wire.
	// Direction is "in" for request data, "out" for response data.
	RecordBytes(direction string, n int)

	// ConnectionOpened increments the accepted connection counter and
	// the active connection gauge.
	ConnectionOpened()

	// ConnectionClosed decrements the active connection gauge and
	// increments the closed counter.
	ConnectionClosed()
}

// transportMetrics is the Prometheus implementation.
type transportMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
}

// NewTransportMetrics creates a Prometheus-backed TransportMetrics, or
// a no-op instance when metrics are disabled.
func NewTransportMetrics() TransportMetrics {
	if !IsEnabled() {
		return noopTransportMetrics{}
	}

	reg := GetRegistry()

	return &transportMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_rpc_requests_total",
				Help: "Total number of RPC requests by operation and status",
			},
			[]string{"op", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "shardfs_rpc_request_duration_seconds",
				Help: "Duration of RPC request handling in seconds",
				Buckets: []float64{
					0.001, 0.005, 0.01, 0.025, 0.05,
					0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
				},
			},
			[]string{"op"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_rpc_bytes_transferred_total",
				Help: "Total payload bytes moved over the RPC transport",
			},
			[]string{"direction"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "shardfs_rpc_active_connections",
				Help: "Current number of active RPC connections",
			},
		),
		connectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_rpc_connections_total",
				Help: "Total RPC connections by lifecycle event",
			},
			[]string{"event"}, // accepted or closed
		),
	}
}

func (m *transportMetrics) RecordRequest(op string, duration time.Duration, status int32) {
	label := "ok"
	if status != 0 {
		label = "error"
	}
	m.requestsTotal.WithLabelValues(op, label).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *transportMetrics) RecordBytes(direction string, n int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (m *transportMetrics) ConnectionOpened() {
	m.activeConnections.Inc()
	m.connectionsTotal.WithLabelValues("accepted").Inc()
}

func (m *transportMetrics) ConnectionClosed() {
	m.activeConnections.Dec()
	m.connectionsTotal.WithLabelValues("closed").Inc()
}

// noopTransportMetrics discards everything.
type noopTransportMetrics struct{}

func (noopTransportMetrics) RecordRequest(op string, duration time.Duration, status int32) {}
func (noopTransportMetrics) RecordBytes(direction string, n int)                           {}
func (noopTransportMetrics) ConnectionOpened()                                             {}
func (noopTransportMetrics) ConnectionClosed()                                             {}
