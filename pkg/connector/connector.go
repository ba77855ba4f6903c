// Package connector implements the Connector that binds a device.Device to
// a domain stack, and the role specializations layered on top of it
// (Central, Peripheral, Sniffer, Injector, Jammer, Coordinator, EndDevice,
// PTX/PRX).
//
// A connector holds a reference to its device, forwards commands to it,
// and receives every message the device's dispatch loop fans out. Base
// caches capability checks and exposes the stack-facing hooks (OnPDU,
// OnConnected, ...) as settable callback fields so a domain stack can bind
// to them without Base importing that stack's package.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/capability"
	"github.com/whad-go/whad/pkg/device"
	"github.com/whad-go/whad/pkg/message"
)

// Role names the specialization a connector has been configured with.
type Role string

const (
	RoleCentral     Role = "central"
	RolePeripheral  Role = "peripheral"
	RoleSniffer     Role = "sniffer"
	RoleInjector    Role = "injector"
	RoleJammer      Role = "jammer"
	RoleCoordinator Role = "coordinator"
	RoleEndDevice   Role = "end_device"
	RolePTX         Role = "ptx"
	RolePRX         Role = "prx"
)

// Hooks are the stack-facing callbacks a domain stack binds to a Base
// connector, translating dongle notifications into stack events.
type Hooks struct {
	OnPDU            func(pdu []byte, connHandle uint32)
	OnCtlPDU         func(pdu []byte, connHandle uint32)
	OnConnected      func(connHandle uint32)
	OnDisconnected   func(connHandle uint32)
	OnAdvPDU         func(pdu []byte)
	OnDesynchronized func()

	// OnRawMessage, when set, receives every PDUCarrier body alongside the
	// typed hook above, letting a domain package recover fields its own
	// message type carries (e.g. BLE's peer/local address and access
	// address on a Connected notification) without Base needing to know
	// about them.
	OnRawMessage func(body message.Body)
}

// Base implements the common connector mechanics; domain packages embed it
// and set Hooks plus their own message.Domain.
type Base struct {
	mu sync.Mutex

	dev    *device.Device
	domain message.Domain
	role   Role
	hooks  Hooks

	canSend       bool
	supportRawPDU bool

	sinks []PacketSink
}

// PacketSink consumes a copy of every PDU-bearing message a connector
// receives, with a capture timestamp in microseconds. Monitors implement
// this to tap a connector's packet stream without sitting in the hook
// path.
type PacketSink interface {
	ProcessPacket(data []byte, timestampMicros int64)
}

// NewBase asserts domain is supported by dev and constructs a Base bound to
// it, caching can_send/support_raw_pdu.
func NewBase(dev *device.Device, domain message.Domain, role Role) (*Base, error) {
	info := dev.Info()
	if info == nil {
		return nil, fmt.Errorf("connector: device has not completed discovery")
	}
	capDomain, _ := domainToCapability(domain)
	if !info.HasDomain(capDomain) {
		return nil, fmt.Errorf("connector: domain %s not supported by device", domain)
	}

	b := &Base{
		dev:    dev,
		domain: domain,
		role:   role,
	}
	bits, _ := info.DomainCapabilities(capDomain)
	b.canSend = bits&(1<<uint(capability.MasterRole)) != 0 || bits&(1<<uint(capability.SlaveRole)) != 0
	b.supportRawPDU = bits&(1<<uint(capability.NoRawData)) == 0

	dev.RegisterConnector(b)
	return b, nil
}

// domainToCapability maps a message.Domain to the capability.Domain tag a
// DeviceInfoResp capability word would carry for it. The mapping is
// positional: capability words are tagged by an ordinal domain index in
// their top octet, assigned in protocol declaration order.
func domainToCapability(d message.Domain) (capability.Domain, error) {
	ordinals := map[message.Domain]uint32{
		message.DomainBLE:      1,
		message.DomainDot15d4:  2,
		message.DomainZigbee:   3,
		message.DomainMesh:     4,
		message.DomainPHY:      5,
		message.DomainESB:      6,
		message.DomainUnifying: 7,
	}
	ordinal, ok := ordinals[d]
	if !ok {
		return 0, fmt.Errorf("connector: no capability ordinal for domain %s", d)
	}
	return capability.Domain(ordinal << 24), nil
}

// Domain returns the message domain this connector handles.
func (b *Base) Domain() message.Domain { return b.domain }

// Role returns the connector's configured role.
func (b *Base) Role() Role { return b.role }

// CanSend reports whether the device can originate link-layer traffic in
// this domain (master or slave capable).
func (b *Base) CanSend() bool { return b.canSend }

// SupportsRawPDU reports whether the device can send/receive raw PDUs
// (capability.NoRawData is absent).
func (b *Base) SupportsRawPDU() bool { return b.supportRawPDU }

// AttachSink registers a packet sink fed from this connector's stream.
func (b *Base) AttachSink(s PacketSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// DetachSink removes a previously attached sink.
func (b *Base) DetachSink(s PacketSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.sinks {
		if cur == s {
			b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
			return
		}
	}
}

// SetHooks installs the stack-facing callbacks.
func (b *Base) SetHooks(h Hooks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = h
}

// HasCapability checks a role-specific capability bit against the device's
// cached DeviceInfo for this connector's domain.
func (b *Base) HasCapability(cap capability.Capability) bool {
	capDomain, err := domainToCapability(b.domain)
	if err != nil {
		return false
	}
	info := b.dev.Info()
	if info == nil {
		return false
	}
	return info.HasCapability(capDomain, cap)
}

// SendCommand forwards to the owning device.
func (b *Base) SendCommand(ctx context.Context, msg *message.Message, match device.MatchFunc, timeout time.Duration) (*message.Message, error) {
	return b.dev.SendCommand(ctx, msg, match, timeout)
}

// Send forwards a command body to the device without waiting for a reply,
// for paths (bridge forwarding) that must not block the dispatch loop.
func (b *Base) Send(body message.Body) error {
	return b.dev.Send(b.dev.Build(body))
}

// Device returns the device this connector is bound to.
func (b *Base) Device() *device.Device { return b.dev }

// Build wraps body into an envelope at the owning device's negotiated
// protocol version, letting a domain stack construct outgoing commands
// without holding its own reference to the device.
func (b *Base) Build(body message.Body) *message.Message {
	return b.dev.Build(body)
}

// OnMessage is the device.Connector entry point: it classifies the message
// and invokes the relevant hook, mirroring dispatch_message's fan-out by
// domain plus the PDU/connection-event hooks.
func (b *Base) OnMessage(msg *message.Message) {
	if msg.Domain != b.domain {
		return
	}
	b.mu.Lock()
	hooks := b.hooks
	sinks := append([]PacketSink(nil), b.sinks...)
	b.mu.Unlock()

	pdu, ok := msg.Body.(PDUCarrier)
	if !ok {
		return
	}

	if hooks.OnRawMessage != nil {
		hooks.OnRawMessage(msg.Body)
	}

	if len(sinks) > 0 && len(pdu.Data()) > 0 {
		ts := time.Now().UnixMicro()
		for _, s := range sinks {
			s.ProcessPacket(pdu.Data(), ts)
		}
	}

	switch {
	case pdu.IsConnected():
		if hooks.OnConnected != nil {
			hooks.OnConnected(pdu.ConnHandle())
		}
	case pdu.IsDisconnected():
		if hooks.OnDisconnected != nil {
			hooks.OnDisconnected(pdu.ConnHandle())
		}
	case pdu.IsAdvertisement():
		if hooks.OnAdvPDU != nil {
			hooks.OnAdvPDU(pdu.Data())
		}
	case pdu.IsControl():
		if hooks.OnCtlPDU != nil {
			hooks.OnCtlPDU(pdu.Data(), pdu.ConnHandle())
		}
	default:
		if hooks.OnPDU != nil {
			hooks.OnPDU(pdu.Data(), pdu.ConnHandle())
		}
	}
}

// PDUCarrier is implemented by domain message bodies that carry a PDU and
// its classification, letting Base.OnMessage stay domain-agnostic.
type PDUCarrier interface {
	Data() []byte
	ConnHandle() uint32
	IsConnected() bool
	IsDisconnected() bool
	IsAdvertisement() bool
	IsControl() bool
}
