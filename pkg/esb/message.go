// Package esb implements the RF4CE/Enhanced ShockBurst/Logitech Unifying
// peer stack: PTX/PRX pairing and the key-seed XOR chain
// that establishes a shared link key without ever putting it on the air
// whole.
package esb

import (
	"encoding/binary"

	"github.com/whad-go/whad/pkg/message"
)

type pduKind byte

const (
	kindData pduKind = iota
	kindPairRequest
	kindPairResponse
	kindKeySeed
)

// Notification is every esb-domain message pushed upward.
type Notification struct {
	kind pduKind
	data []byte

	Addr uint32 // 4-byte ESB/RF4CE address, host byte order

	// KeySeedIndex and KeySeedLast are only meaningful for kindKeySeed:
	// the seed's position in the chain and whether it is the final
	// (computed) share.
	KeySeedIndex byte
	KeySeedLast  bool
}

func (n *Notification) BodyDomain() message.Domain { return message.DomainESB }
func (n *Notification) SubTag() string {
	switch n.kind {
	case kindPairRequest:
		return "pair_request"
	case kindPairResponse:
		return "pair_response"
	case kindKeySeed:
		return "key_seed"
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
	buf := make([]byte, 0, 6+len(n.data))
	var h [6]byte
	binary.LittleEndian.PutUint32(h[0:4], n.Addr)
	h[4] = n.KeySeedIndex
	if n.KeySeedLast {
		h[5] = 1
	}
	buf = append(buf, h[:]...)
	buf = append(buf, n.data...)
	return buf, nil
}

func decodeNotification(kind pduKind) message.Decoder {
	return func(version uint32, subTag string, data []byte) (message.Body, error) {
		if len(data) < 6 {
			return nil, message.ErrTruncated
		}
		n := &Notification{kind: kind}
		n.Addr = binary.LittleEndian.Uint32(data[0:4])
		n.KeySeedIndex = data[4]
		n.KeySeedLast = data[5] != 0
		n.data = append([]byte{}, data[6:]...)
		return n, nil
	}
}

func init() {
	message.Global().Register(message.DomainESB, "pdu", 1, 0, decodeNotification(kindData))
	message.Global().Register(message.DomainESB, "pair_request", 1, 0, decodeNotification(kindPairRequest))
	message.Global().Register(message.DomainESB, "pair_response", 1, 0, decodeNotification(kindPairResponse))
	message.Global().Register(message.DomainESB, "key_seed", 1, 0, decodeNotification(kindKeySeed))
}

// SendData builds the command transmitting a raw payload to addr.
func SendData(addr uint32, payload []byte) *message.DomainCommand {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], addr)
	copy(buf[4:], payload)
	return &message.DomainCommand{Domain_: message.DomainESB, Tag_: "send_pdu", Payload: buf}
}

// SendPairRequest builds the command that opens pairing with addr.
func SendPairRequest(addr uint32) *message.DomainCommand {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, addr)
	return &message.DomainCommand{Domain_: message.DomainESB, Tag_: "pair_request", Payload: buf}
}

// SendKeySeed builds the command carrying one share of the key-seed XOR
// chain, tagged with its index and whether it's the chain's final share.
func SendKeySeed(addr uint32, index byte, last bool, seed []byte) *message.DomainCommand {
	buf := make([]byte, 6+len(seed))
	binary.LittleEndian.PutUint32(buf[0:4], addr)
	buf[4] = index
	if last {
		buf[5] = 1
	}
	copy(buf[6:], seed)
	return &message.DomainCommand{Domain_: message.DomainESB, Tag_: "key_seed", Payload: buf}
}
