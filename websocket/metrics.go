package websocket

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine metrics. They are always updated; RegisterMetrics exposes them.
var (
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wskit_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wskit_handshakes_total",
			Help: "Total number of server handshakes by result",
		},
		[]string{"result"},
	)

	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wskit_messages_received_total",
			Help: "Total number of data messages received",
		},
		[]string{"type"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wskit_messages_sent_total",
			Help: "Total number of data messages queued for sending",
		},
		[]string{"type"},
	)

	controlFramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wskit_control_frames_received_total",
			Help: "Total number of control frames received",
		},
		[]string{"opcode"},
	)

	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wskit_protocol_errors_total",
			Help: "Total number of connections failed by a protocol violation",
		},
		[]string{"kind"},
	)

	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wskit_received_bytes_total",
			Help: "Total number of bytes read from WebSocket sockets",
		},
	)

	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wskit_sent_bytes_total",
			Help: "Total number of bytes written to WebSocket sockets",
		},
	)
)

// Collectors returns every engine metric.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		connectionsActive,
		handshakesTotal,
		messagesReceived,
		messagesSent,
		controlFramesReceived,
		protocolErrors,
		bytesReceived,
		bytesSent,
	}
}

// RegisterMetrics registers the engine metrics with reg. Collectors that are
// already registered are skipped, so calling it twice is harmless.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
