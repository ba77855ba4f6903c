package ble

// linkLayerHeader bits within the first PDU byte of a BLE data-channel PDU
// (Core Spec Vol 6 Part B Section 2.4): LLID in bits 0-1, NESN bit 2, SN bit
// 3, MD bit 4.
const (
	llidMask = 0x03
	nesnBit  = 1 << 2
	snBit    = 1 << 3
	mdBit    = 1 << 4
)

// Sender is the command-channel abstraction the LinkLayer proxy sends
// re-shaped PDUs through; at runtime it is commandSender (stack.go), which
// adapts pkg/connector.Base's SendCommand.
type Sender interface {
	SendPDU(connHandle uint32, accessAddress uint32, pdu []byte) error
}

// LinkLayer is the host-side send proxy: it re-shapes an
// outbound data PDU by stripping the firmware-managed SN/NESN/MD
// acknowledgement bits before handing it to the dongle, so a dongle that
// manages link-layer acknowledgement itself does not receive conflicting
// bits from the host.
type LinkLayer struct {
	sender Sender
}

// NewLinkLayer builds a LinkLayer proxy over sender.
func NewLinkLayer(sender Sender) *LinkLayer {
	return &LinkLayer{sender: sender}
}

// SendPDU strips SN/NESN/MD from pdu's header byte and re-emits a clean
// DATA PDU body via the underlying command channel.
func (l *LinkLayer) SendPDU(pdu []byte, accessAddress uint32, connHandle uint32) error {
	clean := stripAckBits(pdu)
	return l.sender.SendPDU(connHandle, accessAddress, clean)
}

// stripAckBits clears NESN/SN/MD from a data-channel PDU's header byte,
// leaving only the LLID field, which is the only part of the header the
// host is authoritative over when the dongle manages acknowledgement.
func stripAckBits(pdu []byte) []byte {
	if len(pdu) == 0 {
		return pdu
	}
	out := append([]byte(nil), pdu...)
	out[0] &= llidMask
	return out
}
