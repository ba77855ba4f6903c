// Package monitor implements taps over a connector's packet stream. A
// monitor is attached to a connector, started, and from then on consumes
// every PDU the connector receives, off the dispatch path: packets are
// queued into the monitor and drained by its own goroutine so slow sinks
// (disk, pipes, sockets) never stall reception.
package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/logger"
)

// ErrNotAttached is returned by Start before Attach was called.
var ErrNotAttached = errors.New("monitor: not attached to a connector")

// Tap is the attachment point a monitor hooks into; connector.Base
// satisfies it.
type Tap interface {
	AttachSink(s connector.PacketSink)
	DetachSink(s connector.PacketSink)
}

// Packet is one captured PDU with its capture timestamp.
type Packet struct {
	Data      []byte
	Timestamp time.Time
}

// Consumer receives drained packets; PCAP and other concrete monitors
// implement it.
type Consumer interface {
	Consume(pkt Packet) error
	Close() error
}

// queueDepth bounds buffered packets per monitor; beyond it the newest
// packet is dropped rather than blocking the dispatcher.
const queueDepth = 256

// Monitor drives a Consumer from a connector's packet stream.
type Monitor struct {
	mu sync.Mutex

	log      *logger.Logger
	consumer Consumer
	tap      Tap

	queue   chan Packet
	done    chan struct{}
	started bool
}

// New builds a Monitor around consumer.
func New(log *logger.Logger, consumer Consumer) *Monitor {
	return &Monitor{
		log:      log,
		consumer: consumer,
		queue:    make(chan Packet, queueDepth),
	}
}

// Attach hooks the monitor into tap's packet stream. Packets are queued
// but not consumed until Start.
func (m *Monitor) Attach(tap Tap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap = tap
	tap.AttachSink(m)
}

// ProcessPacket implements connector.PacketSink. timestampMicros of zero
// means "now".
func (m *Monitor) ProcessPacket(data []byte, timestampMicros int64) {
	ts := time.Now()
	if timestampMicros != 0 {
		ts = time.UnixMicro(timestampMicros)
	}
	pkt := Packet{Data: append([]byte(nil), data...), Timestamp: ts}
	select {
	case m.queue <- pkt:
	default:
		m.log.Warn("monitor queue full, dropping packet")
	}
}

// Start begins draining queued packets into the consumer.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tap == nil {
		return ErrNotAttached
	}
	if m.started {
		return nil
	}
	m.started = true
	m.done = make(chan struct{})
	go m.drain()
	return nil
}

func (m *Monitor) drain() {
	defer close(m.done)
	for pkt := range m.queue {
		if err := m.consumer.Consume(pkt); err != nil {
			m.log.Error("monitor consume failed", "error", err)
		}
	}
}

// Close detaches from the connector, drains what is already queued, and
// closes the consumer.
func (m *Monitor) Close() error {
	m.mu.Lock()
	tap := m.tap
	started := m.started
	m.tap = nil
	m.started = false
	m.mu.Unlock()

	if tap != nil {
		tap.DetachSink(m)
	}
	close(m.queue)
	if started {
		<-m.done
	}
	return m.consumer.Close()
}
