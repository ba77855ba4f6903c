// Package mesh implements the Bluetooth Mesh peer stack:
// the access -> upper transport -> lower transport -> network -> bearer
// pipeline, indexed network/app keys, heartbeat publication/subscription,
// and minimal configuration server/client model state.
package mesh

import (
	"encoding/binary"

	"github.com/whad-go/whad/pkg/message"
)

type pduKind byte

const (
	kindNetworkPDU pduKind = iota
	kindHeartbeat
)

// Notification is every mesh-domain message pushed upward: a received
// network PDU (still network-layer encrypted) or a heartbeat.
type Notification struct {
	kind pduKind
	data []byte

	SrcAddr uint16
	TTL     byte
	RSSI    int8
}

func (n *Notification) BodyDomain() message.Domain { return message.DomainMesh }
func (n *Notification) SubTag() string {
	if n.kind == kindHeartbeat {
		return "heartbeat"
	}
	return "network_pdu"
}
func (n *Notification) Data() []byte          { return n.data }
func (n *Notification) ConnHandle() uint32    { return 0 }
func (n *Notification) IsConnected() bool     { return false }
func (n *Notification) IsDisconnected() bool  { return false }
func (n *Notification) IsAdvertisement() bool { return false }
func (n *Notification) IsControl() bool       { return false }

func (n *Notification) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 5+len(n.data))
	buf = append(buf, byte(n.kind))
	var h [4]byte
	binary.LittleEndian.PutUint16(h[0:2], n.SrcAddr)
	h[2] = n.TTL
	h[3] = byte(n.RSSI)
	buf = append(buf, h[:]...)
	buf = append(buf, n.data...)
	return buf, nil
}

func decodeNotification(kind pduKind) message.Decoder {
	return func(version uint32, subTag string, data []byte) (message.Body, error) {
		if len(data) < 4 {
			return nil, message.ErrTruncated
		}
		n := &Notification{kind: kind}
		n.SrcAddr = binary.LittleEndian.Uint16(data[0:2])
		n.TTL = data[2]
		n.RSSI = int8(data[3])
		n.data = append([]byte{}, data[4:]...)
		return n, nil
	}
}

func init() {
	message.Global().Register(message.DomainMesh, "network_pdu", 1, 0, decodeNotification(kindNetworkPDU))
	message.Global().Register(message.DomainMesh, "heartbeat", 1, 0, decodeNotification(kindHeartbeat))
}

// SendNetworkPDU builds the command transmitting an already network-layer
// encrypted PDU with the given TTL.
func SendNetworkPDU(ttl byte, pdu []byte) *message.DomainCommand {
	buf := append([]byte{ttl}, pdu...)
	return &message.DomainCommand{Domain_: message.DomainMesh, Tag_: "send_network_pdu", Payload: buf}
}
