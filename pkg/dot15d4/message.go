// Package dot15d4 implements the IEEE 802.15.4 MAC peer stack:
// association, beacon/active/orphan scanning, and a data service
// addressable by either SHORT or EXTENDED addressing with a hard
// acknowledgement timeout. It follows the same shape as package ble (a
// tagged Notification type satisfying connector.PDUCarrier, a Stack that
// binds to a connector.Base) at a smaller scale.
package dot15d4

import (
	"encoding/binary"

	"github.com/whad-go/whad/pkg/message"
)

// AddressMode selects SHORT (16-bit) or EXTENDED (64-bit) addressing for a
// MAC data request.
type AddressMode byte

const (
	AddressShort    AddressMode = 0
	AddressExtended AddressMode = 1
)

type pduKind byte

const (
	kindData pduKind = iota
	kindBeacon
	kindAssociated
	kindDisassociated
	kindScanResult
)

// Notification is every dot15d4-domain message a dongle pushes upward: a
// received MPDU, a beacon observed during a scan, and MLME-style
// association/disassociation/scan-result events.
type Notification struct {
	kind pduKind
	data []byte

	PANID      uint16
	ShortAddr  uint16
	ExtAddr    uint64
	Channel    uint8
	RSSI       int8
	LQI        uint8
}

func (n *Notification) BodyDomain() message.Domain { return message.DomainDot15d4 }
func (n *Notification) SubTag() string {
	switch n.kind {
	case kindBeacon:
		return "beacon"
	case kindAssociated:
		return "associated"
	case kindDisassociated:
		return "disassociated"
	case kindScanResult:
		return "scan_result"
	default:
		return "pdu"
	}
}
func (n *Notification) Data() []byte { return n.data }

// ConnHandle/IsConnected/IsDisconnected/IsAdvertisement/IsControl exist only
// so Notification also satisfies connector.PDUCarrier for the generic
// Base.OnMessage dispatch path; a 802.15.4 MPDU has no connection handle, so
// these are stubbed to the values the generic switch treats as "plain PDU",
// except that IsAdvertisement reports true for beacon notifications.
func (n *Notification) ConnHandle() uint32    { return 0 }
func (n *Notification) IsConnected() bool     { return false }
func (n *Notification) IsDisconnected() bool  { return false }
func (n *Notification) IsAdvertisement() bool { return n.kind == kindBeacon }
func (n *Notification) IsControl() bool       { return false }

func (n *Notification) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 16+len(n.data))
	buf = append(buf, byte(n.kind))
	var h [14]byte
	binary.LittleEndian.PutUint16(h[0:2], n.PANID)
	binary.LittleEndian.PutUint16(h[2:4], n.ShortAddr)
	binary.LittleEndian.PutUint64(h[4:12], n.ExtAddr)
	h[12] = n.Channel
	h[13] = uint8(n.RSSI)
	buf = append(buf, h[:]...)
	buf = append(buf, n.LQI)
	buf = append(buf, n.data...)
	return buf, nil
}

func decodeNotification(kind pduKind) message.Decoder {
	return func(version uint32, subTag string, data []byte) (message.Body, error) {
		if len(data) < 15 {
			return nil, message.ErrTruncated
		}
		n := &Notification{kind: kind}
		n.PANID = binary.LittleEndian.Uint16(data[0:2])
		n.ShortAddr = binary.LittleEndian.Uint16(data[2:4])
		n.ExtAddr = binary.LittleEndian.Uint64(data[4:12])
		n.Channel = data[12]
		n.RSSI = int8(data[13])
		n.LQI = data[14]
		n.data = append([]byte{}, data[15:]...)
		return n, nil
	}
}

func init() {
	message.Global().Register(message.DomainDot15d4, "pdu", 1, 0, decodeNotification(kindData))
	message.Global().Register(message.DomainDot15d4, "beacon", 1, 0, decodeNotification(kindBeacon))
	message.Global().Register(message.DomainDot15d4, "associated", 1, 0, decodeNotification(kindAssociated))
	message.Global().Register(message.DomainDot15d4, "disassociated", 1, 0, decodeNotification(kindDisassociated))
	message.Global().Register(message.DomainDot15d4, "scan_result", 1, 0, decodeNotification(kindScanResult))
}

// SendData builds the data-service command transmitting payload to dstAddr
// (interpreted per mode) on the given PAN, optionally requesting a
// MAC-level acknowledgement.
func SendData(panID uint16, dstAddr uint64, mode AddressMode, payload []byte, wantAck bool) *message.DomainCommand {
	buf := make([]byte, 0, 12+len(payload))
	var h [12]byte
	binary.LittleEndian.PutUint16(h[0:2], panID)
	binary.LittleEndian.PutUint64(h[2:10], dstAddr)
	h[10] = byte(mode)
	if wantAck {
		h[11] = 1
	}
	buf = append(buf, h[:]...)
	buf = append(buf, payload...)
	return &message.DomainCommand{Domain_: message.DomainDot15d4, Tag_: "send_data", Payload: buf}
}
