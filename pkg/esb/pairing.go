package esb

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/message"
)

// Stack is the ESB/RF4CE/Unifying connector. It runs the key-seed XOR
// chain pairing handshake on top of a PTX/PRX role connector and
// dispatches plain data PDUs once a peer's link key is established.
//
// This is the single-stage form of RF4CE's two-stage key exchange (an
// initial 4-share link-key seed followed by a second chain reseeding it):
// one chain of N random shares whose XOR reconstructs the 128-bit link
// key, with the Nth share computed rather than random so the whole chain
// XORs back to the key. No single transmitted share discloses anything
// about the key.
type Stack struct {
	mu       sync.Mutex
	base     *connector.Base
	linkKeys map[uint32][16]byte
	pending  map[uint32][][]byte

	OnPaired func(addr uint32, linkKey [16]byte)
	OnData   func(addr uint32, payload []byte)
}

// NewStack binds a Stack over base.
func NewStack(base *connector.Base) *Stack {
	s := &Stack{base: base, linkKeys: make(map[uint32][16]byte), pending: make(map[uint32][][]byte)}
	base.SetHooks(connector.Hooks{OnRawMessage: s.onRawMessage})
	return s
}

// LinkKey returns the established link key for addr, if pairing completed.
func (s *Stack) LinkKey(addr uint32) ([16]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.linkKeys[addr]
	return k, ok
}

func (s *Stack) onRawMessage(body message.Body) {
	n, ok := body.(*Notification)
	if !ok {
		return
	}
	switch n.kind {
	case kindKeySeed:
		s.mu.Lock()
		s.pending[n.Addr] = append(s.pending[n.Addr], append([]byte{}, n.data...))
		if !n.KeySeedLast {
			s.mu.Unlock()
			return
		}
		shares := s.pending[n.Addr]
		delete(s.pending, n.Addr)
		s.mu.Unlock()

		key, err := reconstructKey(shares)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.linkKeys[n.Addr] = key
		s.mu.Unlock()
		if s.OnPaired != nil {
			s.OnPaired(n.Addr, key)
		}
	case kindData:
		if s.OnData != nil {
			s.OnData(n.Addr, n.data)
		}
	}
}

func reconstructKey(shares [][]byte) ([16]byte, error) {
	var key [16]byte
	for _, share := range shares {
		if len(share) != 16 {
			return key, fmt.Errorf("esb: key seed share has length %d, want 16", len(share))
		}
		for i := range key {
			key[i] ^= share[i]
		}
	}
	return key, nil
}

func splitKey(key [16]byte, shareCount int) ([][16]byte, error) {
	if shareCount < 2 {
		return nil, fmt.Errorf("esb: key-seed chain needs at least 2 shares, got %d", shareCount)
	}
	shares := make([][16]byte, shareCount)
	acc := key
	for i := 0; i < shareCount-1; i++ {
		if _, err := rand.Read(shares[i][:]); err != nil {
			return nil, fmt.Errorf("esb: generating key seed share: %w", err)
		}
		for j := range acc {
			acc[j] ^= shares[i][j]
		}
	}
	shares[shareCount-1] = acc
	return shares, nil
}

// PairAsInitiator generates a random 128-bit link key, splits it into
// shareCount shares via the key-seed XOR chain, and transmits every share
// (including the computed final one) to addr.
func (s *Stack) PairAsInitiator(ctx context.Context, addr uint32, shareCount int) ([16]byte, error) {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("esb: generating link key: %w", err)
	}
	shares, err := splitKey(key, shareCount)
	if err != nil {
		return key, err
	}
	for i, share := range shares {
		last := i == len(shares)-1
		cmd := SendKeySeed(addr, byte(i), last, share[:])
		if _, err := s.base.SendCommand(ctx, s.base.Build(cmd), matchResult, 5*time.Second); err != nil {
			return key, fmt.Errorf("esb: sending key seed %d/%d: %w", i+1, len(shares), err)
		}
	}
	s.mu.Lock()
	s.linkKeys[addr] = key
	s.mu.Unlock()
	return key, nil
}

// Send transmits a plain data PDU to addr.
func (s *Stack) Send(ctx context.Context, addr uint32, payload []byte) error {
	_, err := s.base.SendCommand(ctx, s.base.Build(SendData(addr, payload)), matchResult, 5*time.Second)
	return err
}

// RequestPairing opens pairing with addr, the PRX-side analogue of a
// pairing request.
func (s *Stack) RequestPairing(ctx context.Context, addr uint32) error {
	_, err := s.base.SendCommand(ctx, s.base.Build(SendPairRequest(addr)), matchResult, 5*time.Second)
	return err
}

func matchResult(m *message.Message) bool {
	if m.Domain != message.DomainGeneric {
		return false
	}
	g, ok := m.Body.(*message.Generic)
	return ok && g.Tag == "result"
}
