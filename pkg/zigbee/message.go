// Package zigbee implements the Zigbee NWK/APS peer stack: key-seeded
// group encryption, routing discovery, device announce,
// and a pairing table keyed by network address with per-entry frame
// counters. It reuses the same Notification/Stack shape as package ble and
// package dot15d4.
package zigbee

import (
	"encoding/binary"

	"github.com/whad-go/whad/pkg/message"
)

type pduKind byte

const (
	kindData pduKind = iota
	kindDeviceAnnounce
	kindRouteDiscoveryResult
)

// Notification is every zigbee-domain message pushed upward: a received NWK
// payload, a Device_annce broadcast, or a route-discovery completion.
type Notification struct {
	kind pduKind
	data []byte

	SrcAddr uint16
	SrcExt  uint64
	Capability byte
}

func (n *Notification) BodyDomain() message.Domain { return message.DomainZigbee }
func (n *Notification) SubTag() string {
	switch n.kind {
	case kindDeviceAnnounce:
		return "device_announce"
	case kindRouteDiscoveryResult:
		return "route_discovery_result"
	default:
		return "pdu"
	}
}
func (n *Notification) Data() []byte          { return n.data }
func (n *Notification) ConnHandle() uint32    { return 0 }
func (n *Notification) IsConnected() bool     { return false }
func (n *Notification) IsDisconnected() bool  { return false }
func (n *Notification) IsAdvertisement() bool { return false }
func (n *Notification) IsControl() bool       { return false }

func (n *Notification) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 11+len(n.data))
	buf = append(buf, byte(n.kind))
	var h [10]byte
	binary.LittleEndian.PutUint16(h[0:2], n.SrcAddr)
	binary.LittleEndian.PutUint64(h[2:10], n.SrcExt)
	buf = append(buf, h[:]...)
	buf = append(buf, n.Capability)
	buf = append(buf, n.data...)
	return buf, nil
}

func decodeNotification(kind pduKind) message.Decoder {
	return func(version uint32, subTag string, data []byte) (message.Body, error) {
		if len(data) < 11 {
			return nil, message.ErrTruncated
		}
		n := &Notification{kind: kind}
		n.SrcAddr = binary.LittleEndian.Uint16(data[0:2])
		n.SrcExt = binary.LittleEndian.Uint64(data[2:10])
		n.Capability = data[10]
		n.data = append([]byte{}, data[11:]...)
		return n, nil
	}
}

func init() {
	message.Global().Register(message.DomainZigbee, "pdu", 1, 0, decodeNotification(kindData))
	message.Global().Register(message.DomainZigbee, "device_announce", 1, 0, decodeNotification(kindDeviceAnnounce))
	message.Global().Register(message.DomainZigbee, "route_discovery_result", 1, 0, decodeNotification(kindRouteDiscoveryResult))
}

// SendNWK builds the command transmitting an encrypted NWK payload to
// dstAddr.
func SendNWK(dstAddr uint16, payload []byte) *message.DomainCommand {
	buf := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], dstAddr)
	copy(buf[2:], payload)
	return &message.DomainCommand{Domain_: message.DomainZigbee, Tag_: "send_nwk", Payload: buf}
}

// RouteDiscovery builds the command that triggers a many-to-one or
// broadcast route discovery toward dstAddr.
func RouteDiscovery(dstAddr uint16) *message.DomainCommand {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, dstAddr)
	return &message.DomainCommand{Domain_: message.DomainZigbee, Tag_: "route_discovery", Payload: buf}
}

// DeviceAnnounce builds the broadcast announcing this device's
// short/extended address and capability byte to the network.
func DeviceAnnounce(shortAddr uint16, extAddr uint64, capability byte) *message.DomainCommand {
	buf := make([]byte, 11)
	binary.LittleEndian.PutUint16(buf[0:2], shortAddr)
	binary.LittleEndian.PutUint64(buf[2:10], extAddr)
	buf[10] = capability
	return &message.DomainCommand{Domain_: message.DomainZigbee, Tag_: "device_announce", Payload: buf}
}
