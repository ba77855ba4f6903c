// Package l2cap implements the BLE L2CAP layer: per-
// connection local/remote MTU tracking, channel-ID demultiplexing (ATT,
// LE-signalling, SMP), and SDU segmentation/reassembly over the link
// layer's fixed 27-byte data PDU payload.
//
// Grounded in paypal-gatt's l2cap.go (the same demux-by-CID and
// length-prefixed-then-appended reassembly shape), adapted from a single
// "this device is the server" model to a two-sided MTU negotiation and
// fragmentation-error event, since a WHAD connector can sit on either side
// of a link.
package l2cap

import (
	"errors"
	"fmt"
)

// Channel identifiers this package demultiplexes.
const (
	CIDAtt       uint16 = 0x0004
	CIDSignaling uint16 = 0x0005
	CIDSmp       uint16 = 0x0006
)

// DefaultMTU is the minimum ATT_MTU both sides start at before any Exchange
// MTU exchange (Core Spec Vol 3 Part F Section 3.2.8).
const DefaultMTU uint16 = 23

// ErrFragmentationError is raised when a new first-fragment header arrives
// while a previous SDU is only partially reassembled.
var ErrFragmentationError = errors.New("l2cap: fragmentation error: new first fragment mid-reassembly")

// SDU is one fully reassembled L2CAP service-data-unit delivered to the CID
// it was addressed to.
type SDU struct {
	CID  uint16
	Data []byte
}

// reassembly tracks one CID's in-progress segmentation/reassembly state.
type reassembly struct {
	total   int
	buf     []byte
	pending bool
}

// Channel holds one connection's L2CAP state: MTU in each direction and one
// reassembly buffer per CID currently being fragmented.
type Channel struct {
	localMTU  uint16
	remoteMTU uint16

	frames map[uint16]*reassembly

	// OnFragmentationError is invoked whenever a new first fragment
	// arrives mid-reassembly for a CID; the prior partial SDU is
	// discarded.
	OnFragmentationError func(cid uint16)
}

// New builds a Channel with localMTU as this side's starting MTU and the
// spec default (23) as the remote MTU until negotiated otherwise.
func New(localMTU uint16) *Channel {
	if localMTU == 0 {
		localMTU = DefaultMTU
	}
	return &Channel{
		localMTU:  localMTU,
		remoteMTU: DefaultMTU,
		frames:    make(map[uint16]*reassembly),
	}
}

// LocalMTU returns this side's current ATT_MTU.
func (c *Channel) LocalMTU() uint16 { return c.localMTU }

// RemoteMTU returns the peer's current ATT_MTU.
func (c *Channel) RemoteMTU() uint16 { return c.remoteMTU }

// SetLocalMTU updates this side's MTU, clamped to never shrink below
// DefaultMTU (Core Spec floor).
func (c *Channel) SetLocalMTU(mtu uint16) {
	if mtu < DefaultMTU {
		mtu = DefaultMTU
	}
	c.localMTU = mtu
}

// SetRemoteMTU updates the peer's MTU, typically min(req.mtu, local_max) as
// computed by the ATT layer on an Exchange MTU Request.
func (c *Channel) SetRemoteMTU(mtu uint16) {
	if mtu < DefaultMTU {
		mtu = DefaultMTU
	}
	c.remoteMTU = mtu
}

// EffectiveMTU is the cap both directions agree to use for ATT payloads:
// min(local, remote).
func (c *Channel) EffectiveMTU() uint16 {
	if c.localMTU < c.remoteMTU {
		return c.localMTU
	}
	return c.remoteMTU
}

// FeedFragment processes one inbound link-layer fragment addressed to cid.
// first indicates whether this fragment carries the 2-byte total-SDU-length
// header (the L2CAP "B-frame" first-fragment shape); totalLen is that
// declared length when first is true and is ignored otherwise. It returns a
// non-nil SDU once the declared length has been reached, delivering the SDU
// exactly once.
func (c *Channel) FeedFragment(cid uint16, first bool, totalLen int, payload []byte) (*SDU, error) {
	r, ok := c.frames[cid]
	if first {
		if ok && r.pending {
			if c.OnFragmentationError != nil {
				c.OnFragmentationError(cid)
			}
		}
		r = &reassembly{total: totalLen, pending: true}
		c.frames[cid] = r
	} else if !ok || !r.pending {
		return nil, fmt.Errorf("l2cap: continuation fragment with no pending SDU on CID %#04x", cid)
	}

	r.buf = append(r.buf, payload...)
	if len(r.buf) < r.total {
		return nil, nil
	}

	sdu := &SDU{CID: cid, Data: r.buf[:r.total]}
	delete(c.frames, cid)
	return sdu, nil
}

// FeedLinkLayerFragment processes one raw data-channel PDU payload as it
// arrives off the air: BLE's link layer carries only one SDU in flight per
// connection at a time, so whether raw is a first fragment (4-byte
// length+CID header) or a continuation is inferred from whether a
// reassembly is already pending, rather than from an explicit per-fragment
// flag.
func (c *Channel) FeedLinkLayerFragment(raw []byte) (*SDU, error) {
	if len(c.frames) == 0 {
		if len(raw) < 4 {
			return nil, fmt.Errorf("l2cap: first fragment shorter than the B-frame header")
		}
		totalLen := int(raw[0]) | int(raw[1])<<8
		cid := uint16(raw[2]) | uint16(raw[3])<<8
		return c.FeedFragment(cid, true, totalLen, raw[4:])
	}

	var cid uint16
	for k := range c.frames {
		cid = k
		break
	}
	return c.FeedFragment(cid, false, 0, raw)
}

// Segment splits an outbound SDU into link-layer fragments no larger than
// maxFragment bytes each, prefixing the first fragment with the 4-byte
// B-frame header (2-byte total length, 2-byte CID) per Core Spec Vol 3
// Part A Section 7.1.
func Segment(cid uint16, sdu []byte, maxFragment int) [][]byte {
	if maxFragment <= 4 {
		maxFragment = 23
	}
	header := make([]byte, 4)
	header[0] = byte(len(sdu))
	header[1] = byte(len(sdu) >> 8)
	header[2] = byte(cid)
	header[3] = byte(cid >> 8)

	first := append(header, sdu...)
	var out [][]byte
	for len(first) > 0 {
		n := maxFragment
		if n > len(first) {
			n = len(first)
		}
		out = append(out, first[:n])
		first = first[n:]
	}
	return out
}
