package mesh

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

// NetKey is one indexed network key, bound to the bearer/network layer.
type NetKey struct {
	Index uint16
	Key   [16]byte
}

// AppKey is one indexed application key, bound to a network key and used
// by the upper transport layer.
type AppKey struct {
	Index      uint16
	Key        [16]byte
	NetKeyIndex uint16
}

// HeartbeatSubscription tracks heartbeats received from src while
// subscribed.
type HeartbeatSubscription struct {
	Src          uint16
	Dst          uint16
	PeriodSecs   uint16
	Count        uint16
	MinHops      byte
	MaxHops      byte
}

// ModelState is the minimal configuration server/client model state: a
// composition identity and the element/model app-key bindings a Config
// Client configures on a Config Server.
type ModelState struct {
	CID, PID, VID uint16
	AppKeyBindings map[uint16][]uint16 // elementAddr -> bound app key indexes
}

// Stack is the Bluetooth Mesh connector: it owns the node's network/app
// keys, runs the access/upper-transport/lower-transport/network/bearer
// pipeline over outgoing and incoming PDUs, and tracks heartbeat and
// minimal configuration-model state.
type Stack struct {
	mu      sync.Mutex
	base    *connector.Base
	netKeys map[uint16]NetKey
	appKeys map[uint16]AppKey

	seq uint32

	heartbeatSub *HeartbeatSubscription
	Model        ModelState

	OnAccessMessage func(srcAddr, dstAddr uint16, appKeyIndex uint16, payload []byte)
	OnHeartbeat     func(src uint16, ttlDelta byte)
}

// NewStack binds a Stack over base with no keys configured; call AddNetKey/
// AddAppKey before sending or decoding traffic.
func NewStack(base *connector.Base) *Stack {
	s := &Stack{base: base, netKeys: make(map[uint16]NetKey), appKeys: make(map[uint16]AppKey)}
	s.Model.AppKeyBindings = make(map[uint16][]uint16)
	base.SetHooks(connector.Hooks{OnRawMessage: s.onRawMessage})
	return s
}

// AddNetKey installs a network key at its index, as a Config Client's
// Config NetKey Add would provision it.
func (s *Stack) AddNetKey(k NetKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.netKeys[k.Index] = k
}

// AddAppKey installs an application key bound to a previously added network
// key, as Config AppKey Add would.
func (s *Stack) AddAppKey(k AppKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.netKeys[k.NetKeyIndex]; !ok {
		return fmt.Errorf("mesh: app key %d bound to unknown net key %d", k.Index, k.NetKeyIndex)
	}
	s.appKeys[k.Index] = k
	return nil
}

// BindModelApp records that elementAddr's model now uses appKeyIndex, the
// effect of a Config Model App Bind.
func (s *Stack) BindModelApp(elementAddr uint16, appKeyIndex uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model.AppKeyBindings[elementAddr] = append(s.Model.AppKeyBindings[elementAddr], appKeyIndex)
}

func (s *Stack) onRawMessage(body message.Body) {
	n, ok := body.(*Notification)
	if !ok {
		return
	}
	switch n.kind {
	case kindHeartbeat:
		s.mu.Lock()
		sub := s.heartbeatSub
		s.mu.Unlock()
		if sub != nil && n.SrcAddr == sub.Src {
			s.mu.Lock()
			s.heartbeatSub.Count++
			s.mu.Unlock()
		}
		if s.OnHeartbeat != nil {
			s.OnHeartbeat(n.SrcAddr, n.TTL)
		}
	case kindNetworkPDU:
		srcAddr, dstAddr, appIdx, payload, err := s.decode(n.data)
		if err != nil {
			return
		}
		if s.OnAccessMessage != nil {
			s.OnAccessMessage(srcAddr, dstAddr, appIdx, payload)
		}
	}
}

// SubscribeHeartbeat starts tracking heartbeats from src, the Go analogue
// of setting the Heartbeat Subscription state via Config Client.
func (s *Stack) SubscribeHeartbeat(src, dst uint16, periodSecs uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatSub = &HeartbeatSubscription{Src: src, Dst: dst, PeriodSecs: periodSecs}
}

// HeartbeatCount returns how many heartbeats have been received under the
// current subscription.
func (s *Stack) HeartbeatCount() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatSub == nil {
		return 0
	}
	return s.heartbeatSub.Count
}

// ccm builds an AES-CCM AEAD over key, used identically by the upper
// transport layer (app key) and the network layer (net key) with distinct
// nonces, following Mesh Profile's two-stage encrypt-then-obfuscate
// construction at a level idiomatic Go's stdlib AEAD can express directly.
func ccm(key [16]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewCCM(block)
}

func nonce(seq uint32, src, dst uint16) [13]byte {
	var n [13]byte
	n[0] = 0x00
	binary.BigEndian.PutUint32(n[1:5], seq<<8|uint32(src>>8))
	binary.BigEndian.PutUint16(n[5:7], src)
	binary.BigEndian.PutUint16(n[7:9], dst)
	return n
}

// encode runs payload through the upper-transport (app-key AEAD) then
// network (net-key AEAD) layers, producing one network PDU ready for the
// bearer.
func (s *Stack) encode(appKeyIndex uint16, srcAddr, dstAddr uint16, payload []byte) ([]byte, error) {
	s.mu.Lock()
	appKey, ok := s.appKeys[appKeyIndex]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("mesh: unknown app key index %d", appKeyIndex)
	}
	netKey, ok := s.netKeys[appKey.NetKeyIndex]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("mesh: unknown net key index %d", appKey.NetKeyIndex)
	}
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	upperAEAD, err := ccm(appKey.Key)
	if err != nil {
		return nil, fmt.Errorf("mesh: app key AEAD: %w", err)
	}
	upperNonce := nonce(seq, srcAddr, dstAddr)
	upperPDU := upperAEAD.Seal(nil, upperNonce[:upperAEAD.NonceSize()], payload, nil)

	netAEAD, err := ccm(netKey.Key)
	if err != nil {
		return nil, fmt.Errorf("mesh: net key AEAD: %w", err)
	}
	netNonce := nonce(seq, srcAddr, dstAddr)
	networkPDU := netAEAD.Seal(nil, netNonce[:netAEAD.NonceSize()], upperPDU, nil)

	out := make([]byte, 12+len(networkPDU))
	binary.BigEndian.PutUint32(out[0:4], seq)
	binary.BigEndian.PutUint16(out[4:6], srcAddr)
	binary.BigEndian.PutUint16(out[6:8], dstAddr)
	binary.BigEndian.PutUint16(out[8:10], appKeyIndex)
	binary.BigEndian.PutUint16(out[10:12], netKey.Index)
	out = append(out, networkPDU...)
	return out, nil
}

// decode reverses encode, unwrapping network then upper transport.
func (s *Stack) decode(wire []byte) (srcAddr, dstAddr uint16, appKeyIndex uint16, payload []byte, err error) {
	if len(wire) < 24 {
		return 0, 0, 0, nil, fmt.Errorf("mesh: truncated network PDU")
	}
	seq := binary.BigEndian.Uint32(wire[0:4])
	srcAddr = binary.BigEndian.Uint16(wire[4:6])
	dstAddr = binary.BigEndian.Uint16(wire[6:8])
	appKeyIndex = binary.BigEndian.Uint16(wire[8:10])
	netKeyIndex := binary.BigEndian.Uint16(wire[10:12])
	networkPDU := wire[12:]

	s.mu.Lock()
	appKey, ok := s.appKeys[appKeyIndex]
	if !ok {
		s.mu.Unlock()
		return 0, 0, 0, nil, fmt.Errorf("mesh: unknown app key index %d", appKeyIndex)
	}
	netKey, ok := s.netKeys[netKeyIndex]
	s.mu.Unlock()
	if !ok {
		return 0, 0, 0, nil, fmt.Errorf("mesh: unknown net key index %d", netKeyIndex)
	}

	netAEAD, err := ccm(netKey.Key)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	netNonce := nonce(seq, srcAddr, dstAddr)
	upperPDU, err := netAEAD.Open(nil, netNonce[:netAEAD.NonceSize()], networkPDU, nil)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("mesh: network layer auth failed: %w", err)
	}

	upperAEAD, err := ccm(appKey.Key)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	upperNonce := nonce(seq, srcAddr, dstAddr)
	payload, err = upperAEAD.Open(nil, upperNonce[:upperAEAD.NonceSize()], upperPDU, nil)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("mesh: upper transport auth failed: %w", err)
	}
	return srcAddr, dstAddr, appKeyIndex, payload, nil
}

// Send runs payload through the full pipeline and transmits the resulting
// network PDU with the given TTL.
func (s *Stack) Send(ctx context.Context, appKeyIndex uint16, srcAddr, dstAddr uint16, ttl byte, payload []byte) error {
	wire, err := s.encode(appKeyIndex, srcAddr, dstAddr, payload)
	if err != nil {
		return err
	}
	_, err = s.base.SendCommand(ctx, s.base.Build(SendNetworkPDU(ttl, wire)), matchResult, 5*time.Second)
	return err
}

func matchResult(m *message.Message) bool {
	if m.Domain != message.DomainGeneric {
		return false
	}
	g, ok := m.Body.(*message.Generic)
	return ok && g.Tag == "result"
}
