package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/ble/att"
	"github.com/whad-go/whad/pkg/ble/gatt"
	"github.com/whad-go/whad/pkg/ble/l2cap"
	"github.com/whad-go/whad/pkg/ble/smp"
	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/layer"
	"github.com/whad-go/whad/pkg/message"
)

// Stack is the BLE connector: it binds a connector.Base to the host's
// address/role, and on every Connected/Disconnected notification spawns or
// tears down the per-connection L2CAP/ATT/GATT/SMP instance tree a
// connection needs: a connection exists from the first Connected
// notification until its Disconnected.
//
// The runtime tree this builds is shallow: one root "ble" layer with one
// child "l2cap:<handle>" instance per connection.
type Stack struct {
	mu   sync.Mutex
	base *connector.Base
	runtime *layer.Runtime

	localAddr     [6]byte
	localAddrType AddrType
	localMTU      uint16

	conns map[uint32]*Connection

	// ProfileDB serves this role's local attribute database to peers; for
	// a Central it may be nil (no local services exposed).
	ProfileDB *gatt.DB

	// OnConnection/OnDisconnection notify application code of lifecycle
	// events once this Stack's own bookkeeping has run.
	OnConnection    func(*Connection)
	OnDisconnection func(*Connection)

	// scanSeen deduplicates scan results by BD address.
	scanSeen map[string]bool
	OnScanResult func(addr [6]byte, addrType byte, advData []byte)
}

// NewStack builds a Stack bound to base, using localAddr/localAddrType as
// this host's link-layer identity and localMTU as the ATT_MTU this side
// will request/offer.
func NewStack(base *connector.Base, localAddr [6]byte, localAddrType AddrType, localMTU uint16) *Stack {
	if localMTU == 0 {
		localMTU = l2cap.DefaultMTU
	}
	s := &Stack{
		base:          base,
		runtime:       layer.NewRuntime(),
		localAddr:     localAddr,
		localAddrType: localAddrType,
		localMTU:      localMTU,
		conns:         make(map[uint32]*Connection),
		scanSeen:      make(map[string]bool),
	}
	_ = s.runtime.Attach(layer.Spec{Alias: "ble"}, func(ctx context.Context, env layer.Envelope) error { return nil })
	base.SetHooks(connector.Hooks{OnRawMessage: s.onRawMessage})
	return s
}

// Connection returns the live Connection for handle, or nil.
func (s *Stack) Connection(handle uint32) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[handle]
}

func (s *Stack) onRawMessage(body message.Body) {
	n, ok := body.(*Notification)
	if !ok {
		return
	}
	switch {
	case n.IsConnected():
		s.onConnected(n)
	case n.IsDisconnected():
		s.onDisconnected(n)
	case n.IsAdvertisement():
		s.onAdvPDU(n)
	default:
		s.onDataPDU(n)
	}
}

func (s *Stack) onConnected(n *Notification) {
	conn := NewConnection(n.connHandle, n.LocalAddr, AddrType(n.LocalAddrType), n.PeerAddr, AddrType(n.PeerAddrType), n.AccessAddress, s.localMTU)

	sender := &commandSender{base: s.base}
	ll := NewLinkLayer(sender)
	transport := &pduTransport{ll: ll, conn: conn}
	conn.ATT = att.NewLayer(transport, conn.L2CAP)

	if s.ProfileDB != nil {
		conn.GATTServer = gatt.NewServer(s.ProfileDB, conn.ATT, conn)
	}
	conn.GATTClient = gatt.NewClient(conn.ATT, conn.L2CAP)

	conn.SMP = smp.New(&smpTransport{ll: ll, conn: conn}, n.LocalAddr, n.LocalAddrType, n.PeerAddr, n.PeerAddrType)
	conn.SMP.OnPaired = func(stk [16]byte, initiator, responder *smp.Peer) {
		conn.SetEncrypted(true)
	}

	_, _ = s.runtime.Spawn("ble", layer.Spec{Alias: "l2cap"}, fmt.Sprintf("%d", n.connHandle), func(ctx context.Context, env layer.Envelope) error { return nil })

	s.mu.Lock()
	s.conns[n.connHandle] = conn
	s.mu.Unlock()

	if s.OnConnection != nil {
		s.OnConnection(conn)
	}
}

func (s *Stack) onDisconnected(n *Notification) {
	s.mu.Lock()
	conn, ok := s.conns[n.connHandle]
	delete(s.conns, n.connHandle)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.runtime.Terminate(fmt.Sprintf("ble/l2cap:%d", n.connHandle))
	if s.OnDisconnection != nil {
		s.OnDisconnection(conn)
	}
}

func (s *Stack) onDataPDU(n *Notification) {
	conn := s.Connection(n.connHandle)
	if conn == nil {
		return
	}
	sdu, err := conn.L2CAP.FeedLinkLayerFragment(n.Data())
	if err != nil || sdu == nil {
		return
	}
	switch sdu.CID {
	case l2cap.CIDAtt:
		_ = conn.ATT.HandleIncoming(sdu.Data)
	case l2cap.CIDSmp:
		_ = conn.SMP.HandlePDU(sdu.Data)
	case l2cap.CIDSignaling:
		// LE signalling (connection parameter updates etc.) is accepted
		// but not acted on; the framework exposes it generically rather
		// than implementing every signalling procedure.
	}
}

func (s *Stack) onAdvPDU(n *Notification) {
	addr, addrType, advData, ok := parseAdvReport(n.Data())
	if !ok {
		return
	}
	key := canonicalPeerAddr(addr)
	s.mu.Lock()
	seen := s.scanSeen[key]
	s.scanSeen[key] = true
	s.mu.Unlock()
	if seen {
		return
	}
	if s.OnScanResult != nil {
		s.OnScanResult(addr, addrType, advData)
	}
}

// ResetScanDedup clears the seen-address set, used when starting a new scan
// session.
func (s *Stack) ResetScanDedup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanSeen = make(map[string]bool)
}

// parseAdvReport decodes the minimal advertising-report layout this host
// emits for adv_pdu notifications: 6-byte address, 1-byte type, remaining
// bytes are the AD structure payload.
func parseAdvReport(data []byte) (addr [6]byte, addrType byte, adv []byte, ok bool) {
	if len(data) < 7 {
		return addr, 0, nil, false
	}
	copy(addr[:], data[:6])
	return addr, data[6], data[7:], true
}

// commandSender adapts connector.Base's SendCommand into the
// LinkLayer.Sender interface, issuing the send_pdu command and waiting
// for its Result.
type commandSender struct {
	base *connector.Base
}

func (c *commandSender) SendPDU(connHandle uint32, accessAddress uint32, pdu []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := SendPDU(connHandle, accessAddress, pdu, DirectionTX)
	_, err := c.base.SendCommand(ctx, c.base.Build(cmd), matchResult, 5*time.Second)
	return err
}

func matchResult(m *message.Message) bool {
	if m.Domain != message.DomainGeneric {
		return false
	}
	g, ok := m.Body.(*message.Generic)
	return ok && g.Tag == "result"
}

// pduTransport adapts the per-connection LinkLayer+L2CAP pair into the
// att.Transport interface: an outbound ATT PDU is segmented by L2CAP and
// handed to the link layer one fragment at a time.
type pduTransport struct {
	ll   *LinkLayer
	conn *Connection
}

func (t *pduTransport) Send(pdu []byte) error {
	fragments := l2cap.Segment(l2cap.CIDAtt, pdu, int(t.conn.L2CAP.EffectiveMTU()))
	for _, frag := range fragments {
		if err := t.ll.SendPDU(frag, t.conn.AccessAddress, t.conn.Handle); err != nil {
			return err
		}
	}
	return nil
}

// smpTransport adapts an SMP state machine's outbound PDUs onto CID 0x0006
// through the same per-connection link layer path ATT uses.
type smpTransport struct {
	ll   *LinkLayer
	conn *Connection
}

func (t *smpTransport) Send(pdu []byte) error {
	fragments := l2cap.Segment(l2cap.CIDSmp, pdu, int(t.conn.L2CAP.EffectiveMTU()))
	for _, frag := range fragments {
		if err := t.ll.SendPDU(frag, t.conn.AccessAddress, t.conn.Handle); err != nil {
			return err
		}
	}
	return nil
}
