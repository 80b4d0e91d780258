package socketmode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "slackwire"
	metricsSubsystem = "socket_mode"
)

type metrics struct {
	envelopes      *prometheus.CounterVec
	acks           prometheus.Counter
	ackErrors      prometheus.Counter
	handlerErrors  *prometheus.CounterVec
	connects       prometheus.Counter
	connectErrors  prometheus.Counter
	serverRequests prometheus.Counter
	connected      prometheus.Gauge
}

// newMetrics registers the client's collectors with the given registerer.
// If it's nil, they are registered with a private registry, so multiple
// clients in the same process never collide.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &metrics{
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "envelopes_received_total",
			Help:      "Envelopes received, by message type.",
		}, []string{"type"}),
		acks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "acks_sent_total",
			Help:      "Acknowledgments sent successfully.",
		}),
		ackErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ack_errors_total",
			Help:      "Acknowledgments that failed to be sent.",
		}),
		handlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handler_errors_total",
			Help:      "Handler errors and panics, by message type.",
		}, []string{"type"}),
		connects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_opened_total",
			Help:      "Successful WebSocket connections.",
		}),
		connectErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connection_errors_total",
			Help:      "Failed connection attempts.",
		}),
		serverRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "disconnect_requests_total",
			Help:      "Disconnect control messages received from the server.",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connected",
			Help:      "Whether the client currently has an open WebSocket connection.",
		}),
	}
}
