// Package smp implements the BLE Security Manager Protocol: pairing
// negotiation, the legacy Just Works key exchange, and the bond material
// handed off to persistence.bondstore once a link is encrypted.
package smp

// Peer tracks one side's pairing-specific state: the security parameters it
// advertised, its key-distribution choices, and the crypto values it has
// produced or received so far. Mirrors SM_Peer.
type Peer struct {
	Address     [6]byte
	AddressType byte // 0 = public, 1 = random

	IOCap     IOCapability
	OOB       bool
	Bonding   bool
	MITM      bool
	LESC      bool
	Keypress  bool
	CT2       bool
	MaxKeySize byte

	DistEncKey  bool
	DistIDKey   bool
	DistSignKey bool
	DistLinkKey bool

	// Rand and Confirm are held in the Core Spec's internal (MSB-first)
	// order, ready for c1/s1; the PDU layer reverses them to and from
	// wire order. Address stays in link-layer wire (LSB-first) order and
	// is reversed where c1 consumes it.
	Rand    [16]byte
	Confirm [16]byte
}

// NewPeer builds a Peer defaulting to Legacy Just Works: no OOB, bonding
// requested, no MITM, no LESC, max key size 16.
func NewPeer(address [6]byte, addressType byte) *Peer {
	return &Peer{
		Address:     address,
		AddressType: addressType,
		IOCap:       IOCapNoInputNoOutput,
		Bonding:     true,
		MaxKeySize:  16,
		DistEncKey:  true,
		DistIDKey:   true,
		DistSignKey: true,
	}
}

// AuthReq rebuilds the Pairing Request/Response AuthReq octet from the
// peer's current security parameters.
func (p *Peer) AuthReq() byte {
	var flags byte
	if p.Bonding {
		flags |= AuthReqBonding
	}
	if p.MITM {
		flags |= AuthReqMITM
	}
	if p.LESC {
		flags |= AuthReqLESC
	}
	if p.Keypress {
		flags |= AuthReqKeypress
	}
	if p.CT2 {
		flags |= AuthReqCT2
	}
	return flags
}

// SetAuthReq applies an AuthReq octet received from a peer's PDU to this
// peer's recorded security parameters.
func (p *Peer) SetAuthReq(authReq byte) {
	p.Bonding = authReq&AuthReqBonding != 0
	p.MITM = authReq&AuthReqMITM != 0
	p.LESC = authReq&AuthReqLESC != 0
	p.Keypress = authReq&AuthReqKeypress != 0
	p.CT2 = authReq&AuthReqCT2 != 0
}

// KeyDistribution rebuilds the key-distribution octet from the peer's
// current choices.
func (p *Peer) KeyDistribution() byte {
	var kd byte
	if p.DistEncKey {
		kd |= KeyDistEncKey
	}
	if p.DistIDKey {
		kd |= KeyDistIDKey
	}
	if p.DistSignKey {
		kd |= KeyDistSignKey
	}
	if p.DistLinkKey {
		kd |= KeyDistLinkKey
	}
	return kd
}

// SetKeyDistribution applies a key-distribution octet received from a
// peer's PDU.
func (p *Peer) SetKeyDistribution(kd byte) {
	p.DistEncKey = kd&KeyDistEncKey != 0
	p.DistIDKey = kd&KeyDistIDKey != 0
	p.DistSignKey = kd&KeyDistSignKey != 0
	p.DistLinkKey = kd&KeyDistLinkKey != 0
}

// OOBFlag returns this peer's OOB data flag as carried in a pairing PDU.
func (p *Peer) OOBFlag() OOBDataFlag {
	if p.OOB {
		return OOBEnabled
	}
	return OOBDisabled
}
