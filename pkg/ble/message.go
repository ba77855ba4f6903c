// Package ble ties together the BLE link layer, L2CAP, ATT, GATT and SMP
// sub-packages into one stack, the deepest and most interacting state
// machine in the framework. This file defines the BLE
// domain's wire messages: the notifications a dongle sends up (Connected,
// Disconnected, PduReceived, AdvPdu, Desynchronized) and the commands a
// connector sends down (SendPdu, role starts). They are registered against
// the shared message.Hub the same way pkg/message/generic.go registers the
// generic domain's messages, and they satisfy connector.PDUCarrier so
// connector.Base can classify them without importing this package.
package ble

import (
	"encoding/binary"

	"github.com/whad-go/whad/pkg/message"
)

// Direction tags whether a PDU travels to or from the peer.
type Direction byte

const (
	DirectionRX Direction = 0
	DirectionTX Direction = 1
)

// pduKind distinguishes the six notification shapes Notification carries
// (data, control, advertisement, connected, disconnected,
// desynchronized).
type pduKind byte

const (
	kindData pduKind = iota
	kindControl
	kindAdv
	kindConnected
	kindDisconnected
	kindDesync
)

// Notification is every BLE-domain message the dongle pushes upward:
// Connected/Disconnected events, received data/control PDUs, advertising
// reports, and desynchronization. One Go type covers all of them so
// connector.Base's single PDUCarrier type switch stays simple.
type Notification struct {
	kind       pduKind
	connHandle uint32
	data       []byte

	// Connected fields.
	PeerAddr     [6]byte
	PeerAddrType byte
	LocalAddr    [6]byte
	LocalAddrType byte
	AccessAddress uint32

	// Disconnected fields.
	Reason uint8
}

func (n *Notification) BodyDomain() message.Domain { return message.DomainBLE }
func (n *Notification) SubTag() string {
	switch n.kind {
	case kindConnected:
		return "connected"
	case kindDisconnected:
		return "disconnected"
	case kindAdv:
		return "adv_pdu"
	case kindControl:
		return "ctl_pdu"
	case kindDesync:
		return "desynchronized"
	default:
		return "pdu"
	}
}

func (n *Notification) Data() []byte         { return n.data }
func (n *Notification) ConnHandle() uint32   { return n.connHandle }
func (n *Notification) IsConnected() bool    { return n.kind == kindConnected }
func (n *Notification) IsDisconnected() bool { return n.kind == kindDisconnected }
func (n *Notification) IsAdvertisement() bool { return n.kind == kindAdv }
func (n *Notification) IsControl() bool      { return n.kind == kindControl }

// Marshal encodes the notification into the wire layout: 1B kind, 4B
// connHandle, then kind-specific fields, then raw data.
func (n *Notification) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 32+len(n.data))
	buf = append(buf, byte(n.kind))
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], n.connHandle)
	buf = append(buf, h[:]...)

	switch n.kind {
	case kindConnected:
		buf = append(buf, n.PeerAddr[:]...)
		buf = append(buf, n.PeerAddrType)
		buf = append(buf, n.LocalAddr[:]...)
		buf = append(buf, n.LocalAddrType)
		var aa [4]byte
		binary.LittleEndian.PutUint32(aa[:], n.AccessAddress)
		buf = append(buf, aa[:]...)
	case kindDisconnected:
		buf = append(buf, n.Reason)
	}
	buf = append(buf, n.data...)
	return buf, nil
}

func decodeNotification(kind pduKind) message.Decoder {
	return func(version uint32, subTag string, data []byte) (message.Body, error) {
		n := &Notification{kind: kind}
		if len(data) < 4 {
			return nil, message.ErrTruncated
		}
		n.connHandle = binary.LittleEndian.Uint32(data[:4])
		data = data[4:]

		switch kind {
		case kindConnected:
			if len(data) < 18 {
				return nil, message.ErrTruncated
			}
			copy(n.PeerAddr[:], data[0:6])
			n.PeerAddrType = data[6]
			copy(n.LocalAddr[:], data[7:13])
			n.LocalAddrType = data[13]
			n.AccessAddress = binary.LittleEndian.Uint32(data[14:18])
			data = data[18:]
		case kindDisconnected:
			if len(data) < 1 {
				return nil, message.ErrTruncated
			}
			n.Reason = data[0]
			data = data[1:]
		}
		n.data = append([]byte{}, data...)
		return n, nil
	}
}

func init() {
	message.Global().Register(message.DomainBLE, "pdu", 1, 0, decodeNotification(kindData))
	message.Global().Register(message.DomainBLE, "ctl_pdu", 1, 0, decodeNotification(kindControl))
	message.Global().Register(message.DomainBLE, "adv_pdu", 1, 0, decodeNotification(kindAdv))
	message.Global().Register(message.DomainBLE, "connected", 1, 0, decodeNotification(kindConnected))
	message.Global().Register(message.DomainBLE, "disconnected", 1, 0, decodeNotification(kindDisconnected))
	message.Global().Register(message.DomainBLE, "desynchronized", 1, 0, decodeNotification(kindDesync))
}

// NewConnected builds the notification a connector receives on link
// establishment, the source of a new Connection.
func NewConnected(connHandle uint32, peerAddr [6]byte, peerAddrType byte, localAddr [6]byte, localAddrType byte, accessAddress uint32) *Notification {
	return &Notification{
		kind:          kindConnected,
		connHandle:    connHandle,
		PeerAddr:      peerAddr,
		PeerAddrType:  peerAddrType,
		LocalAddr:     localAddr,
		LocalAddrType: localAddrType,
		AccessAddress: accessAddress,
	}
}

// NewDisconnected builds the notification that tears a Connection down.
func NewDisconnected(connHandle uint32, reason uint8) *Notification {
	return &Notification{kind: kindDisconnected, connHandle: connHandle, Reason: reason}
}

// NewDataPDU builds a received data-channel PDU notification (L2CAP SDU
// fragment bytes).
func NewDataPDU(connHandle uint32, data []byte) *Notification {
	return &Notification{kind: kindData, connHandle: connHandle, data: data}
}

// NewAdvPDU builds a received advertising-channel PDU notification.
func NewAdvPDU(data []byte) *Notification {
	return &Notification{kind: kindAdv, data: data}
}

// SendPDU builds the command sent down to transmit pdu on connHandle. dir
// distinguishes, for a sniffer/bridge, which direction is being injected;
// it is opaque to the dongle command format below the first byte.
func SendPDU(connHandle uint32, accessAddress uint32, pdu []byte, dir Direction) *message.DomainCommand {
	buf := make([]byte, 9+len(pdu))
	binary.LittleEndian.PutUint32(buf[0:4], connHandle)
	binary.LittleEndian.PutUint32(buf[4:8], accessAddress)
	buf[8] = byte(dir)
	copy(buf[9:], pdu)
	return &message.DomainCommand{Domain_: message.DomainBLE, Tag_: "send_pdu", Payload: buf}
}

// SendRawPDU builds the raw-mode variant of SendPDU carrying the access
// address and the 3-byte CRC alongside the PDU body, for dongles that
// expect the full over-the-air frame.
func SendRawPDU(connHandle uint32, accessAddress uint32, pdu []byte, crc [3]byte, dir Direction) *message.DomainCommand {
	buf := make([]byte, 12+len(pdu))
	binary.LittleEndian.PutUint32(buf[0:4], connHandle)
	binary.LittleEndian.PutUint32(buf[4:8], accessAddress)
	buf[8] = byte(dir)
	copy(buf[9:12], crc[:])
	copy(buf[12:], pdu)
	return &message.DomainCommand{Domain_: message.DomainBLE, Tag_: "send_raw_pdu", Payload: buf}
}
