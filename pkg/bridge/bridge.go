// Package bridge joins two connectors into a man-in-the-middle relay: a
// BLE PDU notification received on one side is re-emitted as a send
// command on the other side, with the connection handle rewritten to the
// far side's own handle and, when the far side takes raw PDUs (or raw mode
// is forced), the over-the-air fields synthesized. Packets arriving while the far
// side has no connection are buffered, bounded, and replayed in arrival
// order once a connection appears.
package bridge

import (
	"sync"

	"github.com/google/uuid"

	"github.com/whad-go/whad/pkg/ble"
	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/logger"
	"github.com/whad-go/whad/pkg/message"
	"github.com/whad-go/whad/pkg/metrics"
)

// DefaultAccessAddress is filled into a synthesized raw PDU when the
// originating side's notification did not carry one.
const DefaultAccessAddress uint32 = 0x11223344

// DefaultPendingCap bounds each side's pending queue when the
// configuration does not set one. Above the cap the oldest packet is
// dropped with a warning.
const DefaultPendingCap = 64

// Side names one end of a bridge.
type Side string

const (
	SideInput  Side = "input"
	SideOutput Side = "output"
)

type pendingPacket struct {
	data []byte
	ctl  bool
}

// Connector is the subset of connector.Base a bridge drives: hook
// installation for interception, raw-PDU capability, and fire-and-forget
// command sending.
type Connector interface {
	SetHooks(connector.Hooks)
	SupportsRawPDU() bool
	Send(body message.Body) error
}

// side holds the per-end state: the connector, the connection handle
// packets forwarded *to* this end must carry, and the queue of packets
// waiting for this end to connect.
type side struct {
	name      Side
	conn      Connector
	handle    uint32
	connected bool
	pending   []pendingPacket
}

// Bridge wires two connectors together.
type Bridge struct {
	mu sync.Mutex

	id     string
	log    *logger.Logger
	input  *side
	output *side

	// rawPDU forces full over-the-air frames on both sides regardless of
	// what each connector negotiates.
	rawPDU     bool
	pendingCap int
}

// Option customizes a Bridge at construction.
type Option func(*Bridge)

// WithRawPDU forces raw-PDU mode.
func WithRawPDU() Option { return func(b *Bridge) { b.rawPDU = true } }

// WithPendingCap bounds each side's pending queue.
func WithPendingCap(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.pendingCap = n
		}
	}
}

// New builds a Bridge over the input and output connectors and installs
// its interception hooks on both. Traffic flows outbound (input to
// output) and inbound (output to input) as soon as each side reports a
// connection.
func New(log *logger.Logger, input, output Connector, opts ...Option) *Bridge {
	id := uuid.NewString()
	b := &Bridge{
		id:         id,
		log:        log.WithBridge(id),
		input:      &side{name: SideInput, conn: input},
		output:     &side{name: SideOutput, conn: output},
		pendingCap: DefaultPendingCap,
	}
	for _, opt := range opts {
		opt(b)
	}

	input.SetHooks(connector.Hooks{OnRawMessage: func(body message.Body) {
		b.onMessage(b.input, b.output, body)
	}})
	output.SetHooks(connector.Hooks{OnRawMessage: func(body message.Body) {
		b.onMessage(b.output, b.input, body)
	}})
	return b
}

// ID returns the bridge's unique identifier.
func (b *Bridge) ID() string { return b.id }

// InHandle returns the current connection handle on the input side.
func (b *Bridge) InHandle() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input.handle, b.input.connected
}

// OutHandle returns the current connection handle on the output side.
func (b *Bridge) OutHandle() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output.handle, b.output.connected
}

// PendingCount returns how many packets are queued waiting for the given
// side to connect.
func (b *Bridge) PendingCount(s Side) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == SideInput {
		return len(b.input.pending)
	}
	return len(b.output.pending)
}

// onMessage handles a notification that arrived on from, destined for to.
func (b *Bridge) onMessage(from, to *side, body message.Body) {
	n, ok := body.(*ble.Notification)
	if !ok {
		return
	}

	switch {
	case n.IsConnected():
		b.onConnected(from, n.ConnHandle())
	case n.IsDisconnected():
		b.onDisconnected(from)
	case n.IsAdvertisement():
		// Advertising traffic is not relayed; the far side advertises
		// with its own identity.
	default:
		b.forward(from, to, pendingPacket{data: n.Data(), ctl: n.IsControl()})
	}
}

// onConnected records the handle packets sent toward s must now carry and
// replays anything queued for it, in arrival order.
func (b *Bridge) onConnected(s *side, handle uint32) {
	b.mu.Lock()
	s.handle = handle
	s.connected = true
	queued := s.pending
	s.pending = nil
	metrics.BridgeQueueDepth.WithLabelValues(b.id, string(s.name)).Set(0)
	b.mu.Unlock()

	b.log.Info("bridge side connected", "side", s.name, "handle", handle, "replayed", len(queued))
	for _, pkt := range queued {
		b.send(s, pkt)
	}
}

// onDisconnected locks s: packets destined for it queue until a new
// connection arrives.
func (b *Bridge) onDisconnected(s *side) {
	b.mu.Lock()
	s.connected = false
	b.mu.Unlock()
	b.log.Info("bridge side disconnected", "side", s.name)
}

// forward relays one packet that arrived on from toward to, queueing it if
// to has no connection yet.
func (b *Bridge) forward(from, to *side, pkt pendingPacket) {
	b.mu.Lock()
	if !to.connected {
		if len(to.pending) >= b.pendingCap {
			to.pending = to.pending[1:]
			metrics.BridgeDropped.WithLabelValues(b.id, string(to.name)).Inc()
			b.log.Warn("bridge pending queue full, dropping oldest", "side", to.name)
		}
		to.pending = append(to.pending, pkt)
		metrics.BridgeQueueDepth.WithLabelValues(b.id, string(to.name)).Set(float64(len(to.pending)))
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.send(to, pkt)
}

// send emits pkt as a send command on to's connector using to's current
// handle. When the target expects raw PDUs the access address and CRC the
// notification form lacks are synthesized.
func (b *Bridge) send(to *side, pkt pendingPacket) {
	b.mu.Lock()
	handle := to.handle
	raw := b.rawPDU || to.conn.SupportsRawPDU()
	b.mu.Unlock()

	var cmd *message.DomainCommand
	if raw {
		cmd = ble.SendRawPDU(handle, DefaultAccessAddress, pkt.data, [3]byte{}, ble.DirectionTX)
	} else {
		cmd = ble.SendPDU(handle, DefaultAccessAddress, pkt.data, ble.DirectionTX)
	}
	if err := to.conn.Send(cmd); err != nil {
		metrics.IncError(b.id, "bridge_forward")
		b.log.Error("bridge forward failed", "side", to.name, "error", err)
	}
}
