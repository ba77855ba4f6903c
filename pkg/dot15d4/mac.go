package dot15d4

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/message"
)

// AckTimeout bounds how long a data request with wait_for_ack waits for
// the MAC-level acknowledgement before giving up.
const AckTimeout = 500 * time.Millisecond

// ScanKind distinguishes the three scan procedures the outline names.
type ScanKind int

const (
	ScanBeacon ScanKind = iota
	ScanActive
	ScanOrphan
)

// BeaconInfo is one beacon observed during a beacon or active scan.
type BeaconInfo struct {
	PANID     uint16
	ShortAddr uint16
	Channel   uint8
	RSSI      int8
	LQI       uint8
}

// Stack is the 802.15.4 MAC connector: it turns Notification events into
// association/scan/data-service callbacks, and issues the MLME-style
// commands a coordinator or end device needs.
type Stack struct {
	mu   sync.Mutex
	base *connector.Base

	associated bool
	panID      uint16
	shortAddr  uint16

	OnBeacon        func(BeaconInfo)
	OnAssociated    func(panID, shortAddr uint16)
	OnDisassociated func()
	OnData          func(payload []byte)
}

// NewStack binds a Stack to base, wiring the raw-message hook.
func NewStack(base *connector.Base) *Stack {
	s := &Stack{base: base}
	base.SetHooks(connector.Hooks{OnRawMessage: s.onRawMessage})
	return s
}

func (s *Stack) onRawMessage(body message.Body) {
	n, ok := body.(*Notification)
	if !ok {
		return
	}
	switch n.kind {
	case kindBeacon, kindScanResult:
		if s.OnBeacon != nil {
			s.OnBeacon(BeaconInfo{PANID: n.PANID, ShortAddr: n.ShortAddr, Channel: n.Channel, RSSI: n.RSSI, LQI: n.LQI})
		}
	case kindAssociated:
		s.mu.Lock()
		s.associated = true
		s.panID = n.PANID
		s.shortAddr = n.ShortAddr
		s.mu.Unlock()
		if s.OnAssociated != nil {
			s.OnAssociated(n.PANID, n.ShortAddr)
		}
	case kindDisassociated:
		s.mu.Lock()
		s.associated = false
		s.mu.Unlock()
		if s.OnDisassociated != nil {
			s.OnDisassociated()
		}
	default:
		if s.OnData != nil {
			s.OnData(n.data)
		}
	}
}

// Associated reports whether the end device currently has an active
// association.
func (s *Stack) Associated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.associated
}

// Scan runs one of the three scan procedures on channel, blocking until the dongle's result arrives.
func (s *Stack) Scan(ctx context.Context, kind ScanKind, channel uint8) error {
	var tag string
	switch kind {
	case ScanBeacon:
		tag = "beacon_scan"
	case ScanActive:
		tag = "active_scan"
	case ScanOrphan:
		tag = "orphan_scan"
	default:
		return fmt.Errorf("dot15d4: unknown scan kind %d", kind)
	}
	cmd := &message.DomainCommand{Domain_: message.DomainDot15d4, Tag_: tag, Payload: []byte{channel}}
	_, err := s.base.SendCommand(ctx, s.base.Build(cmd), matchResult, 10*time.Second)
	return err
}

// Associate issues an MLME-ASSOCIATE.request to the PAN coordinator
// identified by panID/coordAddr on channel.
func (s *Stack) Associate(ctx context.Context, channel uint8, panID uint16, coordAddr uint16) error {
	payload := []byte{channel, byte(panID), byte(panID >> 8), byte(coordAddr), byte(coordAddr >> 8)}
	cmd := &message.DomainCommand{Domain_: message.DomainDot15d4, Tag_: "associate", Payload: payload}
	_, err := s.base.SendCommand(ctx, s.base.Build(cmd), matchResult, 10*time.Second)
	return err
}

// SendData transmits payload to dstAddr with the requested addressing mode,
// waiting up to AckTimeout for the acknowledgement when wantAck is set.
func (s *Stack) SendData(ctx context.Context, dstAddr uint64, mode AddressMode, payload []byte, wantAck bool) error {
	s.mu.Lock()
	panID := s.panID
	s.mu.Unlock()

	cmd := SendData(panID, dstAddr, mode, payload, wantAck)
	timeout := 5 * time.Second
	if wantAck {
		timeout = AckTimeout
	}
	_, err := s.base.SendCommand(ctx, s.base.Build(cmd), matchResult, timeout)
	return err
}

func matchResult(m *message.Message) bool {
	if m.Domain != message.DomainGeneric {
		return false
	}
	g, ok := m.Body.(*message.Generic)
	return ok && g.Tag == "result"
}
