package ble

import (
	"sync"

	"github.com/whad-go/whad/pkg/ble/att"
	"github.com/whad-go/whad/pkg/ble/gatt"
	"github.com/whad-go/whad/pkg/ble/l2cap"
	"github.com/whad-go/whad/pkg/ble/smp"
)

// AddrType distinguishes a public from a random BD address.
type AddrType byte

const (
	AddrPublic AddrType = 0
	AddrRandom AddrType = 1
)

// Connection is one BLE link, identifying its connection handle, the
// addresses on each end, the negotiated access address, and the bound
// L2CAP/ATT/GATT/SMP state for this link. Created on Connected, destroyed
// on Disconnected.
type Connection struct {
	mu sync.Mutex

	Handle        uint32
	LocalAddr     [6]byte
	LocalAddrType AddrType
	PeerAddr      [6]byte
	PeerAddrType  AddrType
	AccessAddress uint32

	L2CAP *l2cap.Channel
	ATT   *att.Layer
	// GATTServer serves the local attribute database to the peer.
	GATTServer *gatt.Server
	// GATTClient discovers and accesses the peer's attribute database.
	GATTClient *gatt.Client
	SMP        *smp.SM

	// Subscriptions maps a canonical peer address (the add and remove
	// paths both key off this form) to the set of CCCD handles that peer
	// has subscribed to.
	Subscriptions map[string]map[uint16]bool

	// encrypted reports whether link-layer encryption is active, set once
	// SMP derives an STK/LTK for this connection.
	encrypted bool
}

// NewConnection builds a Connection for a freshly established link,
// allocating only its L2CAP channel. The caller (Stack.onConnected) wires
// ATT, GATT and SMP onto it.
func NewConnection(handle uint32, localAddr [6]byte, localType AddrType, peerAddr [6]byte, peerType AddrType, accessAddress uint32, localMTU uint16) *Connection {
	c := &Connection{
		Handle:        handle,
		LocalAddr:     localAddr,
		LocalAddrType: localType,
		PeerAddr:      peerAddr,
		PeerAddrType:  peerType,
		AccessAddress: accessAddress,
		Subscriptions: make(map[string]map[uint16]bool),
	}
	c.L2CAP = l2cap.New(localMTU)
	return c
}

// SetEncrypted marks the connection's link-layer encryption state once SMP
// completes (STK) or a bond is resumed (LTK).
func (c *Connection) SetEncrypted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encrypted = v
}

// Encrypted reports whether link-layer encryption is active.
func (c *Connection) Encrypted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

// canonicalPeerAddr is the single representation used for both the
// subscription add and remove paths: lower-case, colon-separated,
// most-significant byte first.
func canonicalPeerAddr(addr [6]byte) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 17)
	for i := 5; i >= 0; i-- {
		if i != 5 {
			b = append(b, ':')
		}
		b = append(b, hex[addr[i]>>4], hex[addr[i]&0xf])
	}
	return string(b)
}

// Subscribe records that the connection's peer has enabled notify and/or
// indicate on handle, keyed by the canonical address form.
func (c *Connection) Subscribe(handle uint16, notify, indicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := canonicalPeerAddr(c.PeerAddr)
	set, ok := c.Subscriptions[key]
	if !ok {
		set = make(map[uint16]bool)
		c.Subscriptions[key] = set
	}
	set[handle] = notify || indicate
}

// Unsubscribe removes handle from the peer's subscription set, using the
// same canonical key Subscribe wrote under.
func (c *Connection) Unsubscribe(handle uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := canonicalPeerAddr(c.PeerAddr)
	if set, ok := c.Subscriptions[key]; ok {
		delete(set, handle)
	}
}

// IsSubscribed reports whether the peer is currently subscribed to handle.
func (c *Connection) IsSubscribed(handle uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := canonicalPeerAddr(c.PeerAddr)
	set, ok := c.Subscriptions[key]
	return ok && set[handle]
}
