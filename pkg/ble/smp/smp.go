package smp

import (
	"crypto/rand"
	"fmt"
)

// State is the pairing state machine's current step. Mirrors BleSMP's
// STATE_* constants; only the legacy Just Works path through
// LegacyRandomSent is implemented, and no LESC states are defined.
type State int

const (
	StateIdle State = iota
	StatePairingReq
	StateLegacyConfirmSent
	StateLegacyRandomSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairingReq:
		return "pairing_req"
	case StateLegacyConfirmSent:
		return "legacy_confirm_sent"
	case StateLegacyRandomSent:
		return "legacy_random_sent"
	default:
		return "unknown"
	}
}

// Transport sends an outgoing SMP PDU to the peer over L2CAP CID 0x06.
type Transport interface {
	Send(pdu []byte) error
}

// SM runs the responder side of legacy Just Works pairing for a single
// BLE connection: one instance per connection, fed PDUs via HandlePDU,
// emitting replies through Transport and a bond via OnPaired once the
// exchange completes.
type SM struct {
	transport Transport

	state State

	localAddr   [6]byte
	localType   byte
	localIOCap  IOCapability

	remoteAddr [6]byte
	remoteType byte

	initiator *Peer
	responder *Peer

	pairingReqBody  []byte
	pairingRespBody []byte

	tk  [16]byte
	stk [16]byte

	// OnPaired is invoked once the STK has been derived and verified.
	OnPaired func(stk [16]byte, initiator, responder *Peer)
	// OnFailed is invoked whenever pairing aborts, successfully negotiated
	// or not.
	OnFailed func(reason FailReason)
}

// New builds an SM for a connection whose local (responder) address is
// localAddr/localType and whose peer (initiator) address is
// remoteAddr/remoteType, sending PDUs through transport. The addresses come
// from the connection's link-layer state, not from any SMP PDU field.
func New(transport Transport, localAddr [6]byte, localType byte, remoteAddr [6]byte, remoteType byte) *SM {
	return &SM{
		transport:  transport,
		state:      StateIdle,
		localAddr:  localAddr,
		localType:  localType,
		remoteAddr: remoteAddr,
		remoteType: remoteType,
		localIOCap: IOCapNoInputNoOutput,
	}
}

// State returns the state machine's current step.
func (s *SM) State() State { return s.state }

func (s *SM) send(pdu []byte) {
	if s.transport != nil {
		s.transport.Send(pdu)
	}
}

func (s *SM) fail(reason FailReason) {
	s.send((&Failed{Reason: reason}).Marshal())
	s.state = StateIdle
	if s.OnFailed != nil {
		s.OnFailed(reason)
	}
}

// HandlePDU dispatches one incoming SMP PDU (opcode included) to the
// matching handler, per BleSMP.on_smp_packet.
func (s *SM) HandlePDU(pdu []byte) error {
	decoded, err := Decode(pdu)
	if err != nil {
		return err
	}
	switch p := decoded.(type) {
	case *PairingRequest:
		s.onPairingRequest(p, pdu[1:])
	case *Confirm:
		s.onPairingConfirm(p)
	case *Random:
		s.onPairingRandom(p)
	case *Failed:
		s.state = StateIdle
		if s.OnFailed != nil {
			s.OnFailed(p.Reason)
		}
	default:
		return fmt.Errorf("smp: unhandled PDU type %T", decoded)
	}
	return nil
}

// onPairingRequest accepts a Pairing Request while idle and replies with our
// Pairing Response, per BleSMP.on_pairing_request.
func (s *SM) onPairingRequest(req *PairingRequest, body []byte) {
	if s.state != StateIdle {
		s.fail(ReasonUnspecifiedReason)
		return
	}

	s.initiator = NewPeer(s.remoteAddr, s.remoteType)
	s.initiator.IOCap = req.IOCap
	s.initiator.OOB = req.OOBData == OOBEnabled
	s.initiator.SetAuthReq(req.AuthReq)
	s.initiator.MaxKeySize = req.MaxKeySize

	s.responder = NewPeer(s.localAddr, s.localType)
	s.responder.IOCap = s.localIOCap
	s.responder.SetKeyDistribution(req.RespKeyDist)

	resp := &PairingResponse{
		IOCap:       s.responder.IOCap,
		OOBData:     s.responder.OOBFlag(),
		AuthReq:     s.responder.AuthReq(),
		MaxKeySize:  s.responder.MaxKeySize,
		InitKeyDist: req.InitKeyDist,
		RespKeyDist: s.responder.KeyDistribution(),
	}

	s.pairingReqBody = append([]byte{}, body...)
	s.pairingRespBody = resp.marshalBody()

	s.send(resp.Marshal())
	s.state = StatePairingReq
}

// onPairingConfirm stores the initiator's confirm value, generates our own
// RAND/CONFIRM, and replies, per BleSMP.on_pairing_confirm.
func (s *SM) onPairingConfirm(confirm *Confirm) {
	if s.state != StatePairingReq {
		s.fail(ReasonUnspecifiedReason)
		return
	}

	s.initiator.Confirm = confirm.Value

	if err := s.generateLegacyRand(s.responder); err != nil {
		s.fail(ReasonUnspecifiedReason)
		return
	}
	s.responder.Confirm = s.computeConfirm(s.responder)

	s.send((&Confirm{Value: s.responder.Confirm}).Marshal())
	s.state = StateLegacyConfirmSent
}

// onPairingRandom stores the initiator's RAND, checks its confirm value
// against our own RAND, and on success replies with our RAND and derives
// the STK. Per BleSMP.on_pairing_random.
func (s *SM) onPairingRandom(random *Random) {
	if s.state != StateLegacyConfirmSent {
		s.fail(ReasonUnspecifiedReason)
		return
	}

	s.initiator.Rand = random.Value

	expected := s.computeConfirm(s.initiator)
	if expected != s.initiator.Confirm {
		s.fail(ReasonConfirmValueFailed)
		return
	}

	s.send((&Random{Value: s.responder.Rand}).Marshal())

	s.stk = s1(s.tk, s.responder.Rand, s.initiator.Rand)
	s.state = StateLegacyRandomSent

	if s.OnPaired != nil {
		s.OnPaired(s.stk, s.initiator, s.responder)
	}
}

// generateLegacyRand draws a fresh 128-bit RAND for peer, per
// SM_Peer.generate_legacy_rand (Core Spec Vol 3 Part H Section 2.3.5.5).
func (s *SM) generateLegacyRand(peer *Peer) error {
	var r [16]byte
	if _, err := rand.Read(r[:]); err != nil {
		return err
	}
	peer.Rand = r
	return nil
}

// computeConfirm computes c1 for rand-holder's RAND value against the
// captured Pairing Request/Response PDUs and both peers' addresses.
//
// The captured PDUs and the link-layer addresses are held in wire
// (LSB-first) order; c1 takes them byte-reversed. RAND values are already
// internal-order (the wire boundary in pdu.go reverses them on the way in
// and out), so they go in as-is.
func (s *SM) computeConfirm(randHolder *Peer) [16]byte {
	// The captured bodies omit the opcode; rebuild the 7-byte SMP PDU
	// (opcode + 6-byte body) the Core Spec's c1 definition covers.
	var preqPDU, presPDU [7]byte
	preqPDU[0] = OpPairingRequest
	copy(preqPDU[1:], s.pairingReqBody)
	presPDU[0] = OpPairingResponse
	copy(presPDU[1:], s.pairingRespBody)

	return c1(
		s.tk,
		randHolder.Rand,
		reverse7(preqPDU),
		reverse7(presPDU),
		s.initiator.AddressType,
		reverse6(s.initiator.Address),
		s.responder.AddressType,
		reverse6(s.responder.Address),
	)
}
