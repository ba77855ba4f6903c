// Package metrics exposes Prometheus counters/gauges for devices,
// connectors and bridges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketCount counts packets flowing through a device's connectors.
	PacketCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whad_device_packets_total",
		Help: "The total number of packets processed per device and domain",
	}, []string{"device", "domain", "direction", "status"})

	// ErrorCount counts errors surfaced by a device or bridge.
	ErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whad_device_errors_total",
		Help: "The total number of errors per device",
	}, []string{"device", "type"})

	// ConnectedDevices tracks the number of currently discovered devices.
	ConnectedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whad_connected_devices_total",
		Help: "The total number of currently connected and discovered devices",
	})

	// BridgeQueueDepth tracks packets buffered in a bridge waiting for the
	// far side to connect.
	BridgeQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whad_bridge_queue_depth",
		Help: "Number of packets buffered in a bridge pending queue",
	}, []string{"bridge", "side"})

	// BridgeDropped counts packets dropped because a bridge pending queue
	// exceeded its cap.
	BridgeDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whad_bridge_dropped_total",
		Help: "Packets dropped from a bridge pending queue because it was full",
	}, []string{"bridge", "side"})
)

// Direction constants.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Status constants.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IncPacket increments the packet counter.
func IncPacket(device, domain, direction, status string) {
	PacketCount.WithLabelValues(device, domain, direction, status).Inc()
}

// IncError increments the error counter.
func IncError(device, errType string) {
	ErrorCount.WithLabelValues(device, errType).Inc()
}

// SetConnectedDevices sets the gauge of connected devices.
func SetConnectedDevices(count int) {
	ConnectedDevices.Set(float64(count))
}
