package zigbee

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/message"
)

// PairingEntry is one entry of the pairing table, tracking per-peer
// outgoing and incoming NWK frame counters to reject replays and detect
// desync.
type PairingEntry struct {
	ShortAddr    uint16
	ExtAddr      uint64
	OutgoingCtr  uint32
	IncomingCtr  uint32
}

// Stack is the Zigbee NWK/APS connector. It keeps one network key (shared
// by the whole PAN, per Zigbee's group-encryption model) and a pairing
// table keyed by short address, and exposes device-announce/route-discovery
// as simple request/reply commands.
type Stack struct {
	mu           sync.Mutex
	base         *connector.Base
	networkKey   [16]byte
	pairingTable map[uint16]*PairingEntry

	OnDeviceAnnounce func(shortAddr uint16, extAddr uint64, capability byte)
	OnData           func(srcAddr uint16, payload []byte)
}

// NewStack binds a Stack over base, keyed by networkKey (the PAN's shared
// network key used for group encryption of every NWK frame).
func NewStack(base *connector.Base, networkKey [16]byte) *Stack {
	s := &Stack{base: base, networkKey: networkKey, pairingTable: make(map[uint16]*PairingEntry)}
	base.SetHooks(connector.Hooks{OnRawMessage: s.onRawMessage})
	return s
}

func (s *Stack) onRawMessage(body message.Body) {
	n, ok := body.(*Notification)
	if !ok {
		return
	}
	switch n.kind {
	case kindDeviceAnnounce:
		s.mu.Lock()
		s.pairingTable[n.SrcAddr] = &PairingEntry{ShortAddr: n.SrcAddr, ExtAddr: n.SrcExt}
		s.mu.Unlock()
		if s.OnDeviceAnnounce != nil {
			s.OnDeviceAnnounce(n.SrcAddr, n.SrcExt, n.Capability)
		}
	case kindData:
		plain, err := s.decrypt(n.SrcAddr, n.data)
		if err != nil {
			return
		}
		if s.OnData != nil {
			s.OnData(n.SrcAddr, plain)
		}
	}
}

// Entry returns the pairing table entry for shortAddr, or nil.
func (s *Stack) Entry(shortAddr uint16) *PairingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingTable[shortAddr]
}

// nonce builds the 16-byte CTR counter block from the peer's short address
// and its current outgoing frame counter, giving every NWK frame a
// unique keystream.
func nonce(addr uint16, counter uint32) [16]byte {
	var n [16]byte
	binary.BigEndian.PutUint16(n[0:2], addr)
	binary.BigEndian.PutUint32(n[12:16], counter)
	return n
}

func (s *Stack) streamCipher(addr uint16, counter uint32) (cipher.Stream, error) {
	block, err := aes.NewCipher(s.networkKey[:])
	if err != nil {
		return nil, fmt.Errorf("zigbee: network key: %w", err)
	}
	n := nonce(addr, counter)
	return cipher.NewCTR(block, n[:]), nil
}

// encrypt applies the network-key keystream for entry's next outgoing
// frame counter, advancing it.
func (s *Stack) encrypt(dstAddr uint16, plain []byte) ([]byte, uint32, error) {
	s.mu.Lock()
	entry, ok := s.pairingTable[dstAddr]
	if !ok {
		entry = &PairingEntry{ShortAddr: dstAddr}
		s.pairingTable[dstAddr] = entry
	}
	counter := entry.OutgoingCtr
	entry.OutgoingCtr++
	s.mu.Unlock()

	stream, err := s.streamCipher(dstAddr, counter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, len(plain))
	stream.XORKeyStream(out, plain)
	return out, counter, nil
}

// decrypt reverses encrypt using the 4-byte frame counter at the start of
// cipherText, rejecting a counter below the sender's next expected incoming
// counter as a replay; counters that skip ahead are accepted.
func (s *Stack) decrypt(srcAddr uint16, cipherText []byte) ([]byte, error) {
	if len(cipherText) < 4 {
		return nil, fmt.Errorf("zigbee: truncated NWK payload")
	}
	counter := binary.BigEndian.Uint32(cipherText[:4])
	body := cipherText[4:]

	s.mu.Lock()
	entry, ok := s.pairingTable[srcAddr]
	if !ok {
		entry = &PairingEntry{ShortAddr: srcAddr}
		s.pairingTable[srcAddr] = entry
	}
	if counter < entry.IncomingCtr {
		s.mu.Unlock()
		return nil, fmt.Errorf("zigbee: replayed frame counter %d from %#04x", counter, srcAddr)
	}
	entry.IncomingCtr = counter + 1
	s.mu.Unlock()

	stream, err := s.streamCipher(srcAddr, counter)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(body))
	stream.XORKeyStream(out, body)
	return out, nil
}

// Send encrypts payload under the network key and transmits it to dstAddr,
// prefixing the wire frame with the 4-byte frame counter used as part of
// the keystream nonce.
func (s *Stack) Send(ctx context.Context, dstAddr uint16, payload []byte) error {
	cipherText, counter, err := s.encrypt(dstAddr, payload)
	if err != nil {
		return err
	}
	wire := make([]byte, 4+len(cipherText))
	binary.BigEndian.PutUint32(wire[:4], counter)
	copy(wire[4:], cipherText)

	cmd := SendNWK(dstAddr, wire)
	_, err = s.base.SendCommand(ctx, s.base.Build(cmd), matchResult, 5*time.Second)
	return err
}

// DiscoverRoute triggers a route-discovery toward dstAddr.
func (s *Stack) DiscoverRoute(ctx context.Context, dstAddr uint16) error {
	_, err := s.base.SendCommand(ctx, s.base.Build(RouteDiscovery(dstAddr)), matchResult, 10*time.Second)
	return err
}

// AnnounceSelf broadcasts this device's Device_annce.
func (s *Stack) AnnounceSelf(ctx context.Context, shortAddr uint16, extAddr uint64, capability byte) error {
	_, err := s.base.SendCommand(ctx, s.base.Build(DeviceAnnounce(shortAddr, extAddr, capability)), matchResult, 5*time.Second)
	return err
}

func matchResult(m *message.Message) bool {
	if m.Domain != message.DomainGeneric {
		return false
	}
	g, ok := m.Body.(*message.Generic)
	return ok && g.Tag == "result"
}
