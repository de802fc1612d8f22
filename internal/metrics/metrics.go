package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeviceConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_device_connections",
			Help: "Currently authenticated device connections",
		},
	)
	DeviceMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_device_messages_total",
			Help: "Envelopes received from devices by message type",
		},
		[]string{"type"},
	)
	DroppedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_dropped_messages_total",
			Help: "Inbound envelopes dropped due to queue overflow",
		},
	)
	BatchFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_batch_flushes_total",
			Help: "Detection batch flushes by result",
		},
		[]string{"result"},
	)
	FanoutDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_fanout_deliveries_total",
			Help: "Events delivered to viewer sessions by result",
		},
		[]string{"event", "result"},
	)
	ViewerSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_viewer_sessions",
			Help: "Currently connected viewer sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DeviceConnections,
		DeviceMessages,
		DroppedMessages,
		BatchFlushes,
		FanoutDeliveries,
		ViewerSessions,
	)
}
