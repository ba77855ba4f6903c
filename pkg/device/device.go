// Package device implements the Device abstraction: a paired reader/
// processor goroutine pump over a transport.Transport, filter-matched
// command/response correlation, the discovery handshake, and dispatch to
// registered connectors.
//
// SendCommand publishes a correlation filter, writes the command, and
// blocks for the matching reply; the processor loop routes every parsed
// message either to the oldest matching waiter or to the dispatch fan-out
// across registered connectors. A mutex-guarded state enum tracks the
// open/ready/not-ready lifecycle.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/capability"
	"github.com/whad-go/whad/pkg/framing"
	"github.com/whad-go/whad/pkg/message"
	"github.com/whad-go/whad/pkg/metrics"
	"github.com/whad-go/whad/pkg/transport"
)

// ProtocolVersion is the baseline protocol version this host speaks.
const ProtocolVersion uint32 = 1

// State enumerates a Device's lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateReady
	StateNotReady
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// Errors returned by Device operations.
var (
	ErrNotOpen          = errors.New("device: not open")
	ErrTimeout          = errors.New("device: wait_for_message timed out")
	ErrNotReady         = errors.New("device: not ready")
	ErrUnsupportedDomain = errors.New("device: unsupported domain")
)

// MatchFunc reports whether a parsed message satisfies an outstanding
// send_command waiter.
type MatchFunc func(*message.Message) bool

// Connector is the subset of pkg/connector.Base a Device dispatches
// messages to. Defined here (rather than imported) to avoid a dependency
// cycle.
type Connector interface {
	Domain() message.Domain
	OnMessage(msg *message.Message)
}

type waiter struct {
	match MatchFunc
	ch    chan *message.Message
}

// Device owns one open transport, its reader/processor goroutine pair, and
// the connectors bound to it.
type Device struct {
	mu sync.Mutex

	name      string
	transport transport.Transport
	codec     *framing.Codec
	hub       *message.Hub

	state State
	info  *capability.Info

	connectors []Connector

	waiters   []*waiter
	cancel    context.CancelFunc
	doneCh    chan struct{}
}

// New wraps an opened-but-not-yet-started transport in a Device.
func New(name string, tr transport.Transport) *Device {
	return &Device{
		name:      name,
		transport: tr,
		codec:     framing.NewCodec(0),
		hub:       message.NewHub(message.Global(), ProtocolVersion),
		state:     StateClosed,
	}
}

// Name returns the name the device was configured under.
func (d *Device) Name() string { return d.name }

// RegisterConnector attaches a connector; every non-discovery/generic
// message delivered after this call is offered to it.
func (d *Device) RegisterConnector(c Connector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectors = append(d.connectors, c)
}

// Info returns the cached capability info populated by the discovery
// handshake, or nil before discovery completes.
func (d *Device) Info() *capability.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// State returns the device's current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Open opens the transport, starts the reader and processor goroutines, and
// runs the discovery handshake: DeviceInfoQuery, then one
// DeviceDomainInfoQuery per reported domain, then SetTransportSpeed.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateClosed {
		d.mu.Unlock()
		return nil
	}
	d.state = StateOpening
	d.mu.Unlock()

	if err := d.transport.Open(ctx); err != nil {
		d.mu.Lock()
		d.state = StateNotReady
		d.mu.Unlock()
		return fmt.Errorf("device: open transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	msgCh := make(chan *message.Message, 64)
	go d.readerLoop(runCtx, msgCh)
	go d.processorLoop(runCtx, msgCh)

	if err := d.discover(ctx); err != nil {
		d.mu.Lock()
		d.state = StateNotReady
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.state = StateReady
	d.mu.Unlock()
	return nil
}

// Close cancels the reader/processor goroutines and closes the transport.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	done := d.doneCh
	d.state = StateClosed
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	d.failAllWaiters(ErrNotReady)
	return d.transport.Close()
}

// readerLoop blocks on transport reads, feeds the framing codec, and
// parses whole frames into messages, pushing them onto msgCh.
func (d *Device) readerLoop(ctx context.Context, msgCh chan<- *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := d.transport.Read(ctx)
		if err != nil {
			metrics.IncError(d.name, "transport_read")
			d.mu.Lock()
			d.state = StateNotReady
			d.mu.Unlock()
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := d.codec.Write(data); err != nil {
			// Buffer overflow: resync by dropping everything buffered.
			d.codec.Reset()
			metrics.IncError(d.name, "framing_overflow")
			continue
		}

		for _, payload := range d.codec.Drain() {
			msg, err := d.hub.Parse(payload)
			if err != nil {
				metrics.IncError(d.name, "parse_error")
				continue
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processorLoop consumes parsed messages, routing each to the first
// matching waiter (send_command correlation) or to dispatch otherwise.
func (d *Device) processorLoop(ctx context.Context, msgCh <-chan *message.Message) {
	defer close(d.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if !d.routeToWaiter(msg) {
				d.dispatch(msg)
			}
		}
	}
}

func (d *Device) routeToWaiter(msg *message.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range d.waiters {
		if w.match(msg) {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			w.ch <- msg
			return true
		}
	}
	return false
}

func (d *Device) failAllWaiters(err error) {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()
	for _, w := range waiters {
		close(w.ch)
	}
	_ = err
}

// dispatch fans a message out to generic handling (fatal on
// UnsupportedDomain) or to every registered connector.
func (d *Device) dispatch(msg *message.Message) {
	if msg.Domain == message.DomainGeneric {
		if g, ok := msg.Body.(*message.Generic); ok && g.Tag == "result" {
			if code, err := g.Result(); err == nil && code == message.ResultUnsupportedDomain {
				d.mu.Lock()
				d.state = StateNotReady
				d.mu.Unlock()
				return
			}
		}
	}

	d.mu.Lock()
	connectors := append([]Connector(nil), d.connectors...)
	d.mu.Unlock()

	for _, c := range connectors {
		c.OnMessage(msg)
	}
}

// SendCommand publishes match as the correlation filter, writes msg to the
// transport, and blocks until a matching reply arrives, ctx is cancelled, or
// timeout elapses. Zero timeout means wait indefinitely for ctx.
func (d *Device) SendCommand(ctx context.Context, msg *message.Message, match MatchFunc, timeout time.Duration) (*message.Message, error) {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return nil, ErrNotOpen
	}
	w := &waiter{match: match, ch: make(chan *message.Message, 1)}
	d.waiters = append(d.waiters, w)
	d.mu.Unlock()

	if err := d.write(msg); err != nil {
		d.removeWaiter(w)
		return nil, err
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case reply, ok := <-w.ch:
		if !ok {
			return nil, ErrNotReady
		}
		return reply, nil
	case <-waitCtx.Done():
		d.removeWaiter(w)
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, waitCtx.Err()
	}
}

func (d *Device) removeWaiter(target *waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range d.waiters {
		if w == target {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return
		}
	}
}

// Send writes msg without publishing a correlation filter, for callers
// that do not need the reply (bridge forwarding, notifications). It must
// not be used for commands whose Result the caller inspects.
func (d *Device) Send(msg *message.Message) error {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return ErrNotOpen
	}
	d.mu.Unlock()
	return d.write(msg)
}

// write serializes msg and writes it through the transport under the
// codec's framing, holding no lock across the I/O call itself (the
// transport's own mutex serializes header/payload writes).
func (d *Device) write(msg *message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("device: encode: %w", err)
	}
	_, err = d.transport.Write(framing.Encode(payload))
	return err
}

// matchGeneric builds a MatchFunc for a specific generic sub-tag, the Go
// analogue of message_filter('generic', tag).
func matchGeneric(tag string) MatchFunc {
	return func(m *message.Message) bool {
		if m.Domain != message.DomainGeneric {
			return false
		}
		g, ok := m.Body.(*message.Generic)
		return ok && g.Tag == tag
	}
}

// discover runs the capability discovery handshake.
func (d *Device) discover(ctx context.Context) error {
	reply, err := d.SendCommand(ctx, d.hub.Build(message.NewDeviceInfoQuery(ProtocolVersion)), matchGeneric("device_info_resp"), 5*time.Second)
	if err != nil {
		return fmt.Errorf("device: device_info_query: %w", err)
	}
	info, err := parseDeviceInfoResp(reply)
	if err != nil {
		return fmt.Errorf("device: parse device_info_resp: %w", err)
	}

	for _, domain := range info.Domains() {
		reply, err := d.SendCommand(ctx, d.hub.Build(message.NewDeviceDomainInfoQuery(uint32(domain))), matchGeneric("device_domain_info_resp"), 5*time.Second)
		if err != nil {
			return fmt.Errorf("device: device_domain_info_query(%d): %w", domain, err)
		}
		commands, err := parseDeviceDomainInfoResp(reply)
		if err != nil {
			return fmt.Errorf("device: parse device_domain_info_resp: %w", err)
		}
		info.AddSupportedCommands(domain, commands)
	}

	d.mu.Lock()
	d.info = info
	maxSpeed := info.MaxSpeed
	d.mu.Unlock()

	if _, err := d.SendCommand(ctx, d.hub.Build(message.NewSetTransportSpeed(maxSpeed)), matchGeneric("result"), 5*time.Second); err != nil {
		return fmt.Errorf("device: set_transport_speed: %w", err)
	}

	metrics.SetConnectedDevices(1)
	return nil
}

// Reset issues a Reset command and awaits ready_resp, usable at any
// point in a Device's lifetime.
func (d *Device) Reset(ctx context.Context) error {
	_, err := d.SendCommand(ctx, d.hub.Build(message.NewReset()), matchGeneric("ready_resp"), 5*time.Second)
	return err
}

// Build wraps body into an envelope at this device's negotiated protocol
// version, for connectors that construct domain-specific command bodies.
func (d *Device) Build(body message.Body) *message.Message {
	return d.hub.Build(body)
}
