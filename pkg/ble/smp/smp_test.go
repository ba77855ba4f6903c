package smp

import "testing"

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Send(pdu []byte) error {
	f.sent = append(f.sent, append([]byte{}, pdu...))
	return nil
}

func TestLegacyJustWorksHandshake(t *testing.T) {
	transport := &fakeTransport{}
	localAddr := [6]byte{0xB6, 0xB5, 0xB4, 0xB3, 0xB2, 0xB1}
	remoteAddr := [6]byte{0xA6, 0xA5, 0xA4, 0xA3, 0xA2, 0xA1}

	sm := New(transport, localAddr, 0, remoteAddr, 1)

	req := &PairingRequest{
		IOCap:       IOCapNoInputNoOutput,
		OOBData:     OOBDisabled,
		AuthReq:     AuthReqBonding,
		MaxKeySize:  16,
		InitKeyDist: KeyDistEncKey | KeyDistIDKey | KeyDistSignKey,
		RespKeyDist: KeyDistEncKey | KeyDistIDKey | KeyDistSignKey,
	}
	if err := sm.HandlePDU(req.Marshal()); err != nil {
		t.Fatalf("pairing request: %v", err)
	}
	if sm.State() != StatePairingReq {
		t.Fatalf("state = %v, want pairing_req", sm.State())
	}
	if len(transport.sent) != 1 || transport.sent[0][0] != OpPairingResponse {
		t.Fatalf("expected a single pairing response, got %v", transport.sent)
	}

	// Simulate the initiator the way a real peer computes its confirm:
	// the wire-order PDUs and both wire-order addresses byte-reversed
	// before c1, RAND in internal order.
	var initiatorRand [16]byte
	initiatorRand[0] = 0x42 // any fixed value works for Just Works

	var preqPDU, presPDU [7]byte
	preqPDU[0] = OpPairingRequest
	copy(preqPDU[1:], sm.pairingReqBody)
	presPDU[0] = OpPairingResponse
	copy(presPDU[1:], sm.pairingRespBody)

	initiatorConfirm := c1(sm.tk, initiatorRand, reverse7(preqPDU), reverse7(presPDU),
		sm.remoteType, reverse6(remoteAddr), sm.localType, reverse6(localAddr))

	if err := sm.HandlePDU((&Confirm{Value: initiatorConfirm}).Marshal()); err != nil {
		t.Fatalf("pairing confirm: %v", err)
	}
	if sm.State() != StateLegacyConfirmSent {
		t.Fatalf("state = %v, want legacy_confirm_sent", sm.State())
	}
	if len(transport.sent) != 2 || transport.sent[1][0] != OpPairingConfirm {
		t.Fatalf("expected a confirm reply, got %v", transport.sent)
	}

	// The confirm reply carries the computed value byte-reversed on the
	// wire.
	var wireConfirm [16]byte
	copy(wireConfirm[:], transport.sent[1][1:])
	if reverse16(wireConfirm) != sm.responder.Confirm {
		t.Fatalf("confirm on the wire = %x, want byte-reversed %x", wireConfirm, sm.responder.Confirm)
	}

	var paired bool
	var stk [16]byte
	sm.OnPaired = func(s [16]byte, initiator, responder *Peer) {
		paired = true
		stk = s
	}

	if err := sm.HandlePDU((&Random{Value: initiatorRand}).Marshal()); err != nil {
		t.Fatalf("pairing random: %v", err)
	}
	if !paired {
		t.Fatal("OnPaired was not invoked")
	}
	if sm.State() != StateLegacyRandomSent {
		t.Fatalf("state = %v, want legacy_random_sent", sm.State())
	}
	if len(transport.sent) != 3 || transport.sent[2][0] != OpPairingRandom {
		t.Fatalf("expected a random reply, got %v", transport.sent)
	}

	var wireRand [16]byte
	copy(wireRand[:], transport.sent[2][1:])
	if reverse16(wireRand) != sm.responder.Rand {
		t.Fatalf("random on the wire = %x, want byte-reversed %x", wireRand, sm.responder.Rand)
	}

	responderRand := sm.responder.Rand
	wantSTK := s1(sm.tk, responderRand, initiatorRand)
	if stk != wantSTK {
		t.Errorf("STK = %x, want %x", stk, wantSTK)
	}
}

func TestConfirmAndRandomReverseOnWire(t *testing.T) {
	var value [16]byte
	for i := range value {
		value[i] = byte(i)
	}

	confirmPDU := (&Confirm{Value: value}).Marshal()
	for i := 0; i < 16; i++ {
		if confirmPDU[1+i] != value[15-i] {
			t.Fatalf("confirm wire byte %d = %#02x, want %#02x", i, confirmPDU[1+i], value[15-i])
		}
	}
	decodedConfirm, err := UnmarshalConfirm(confirmPDU[1:])
	if err != nil {
		t.Fatalf("unmarshal confirm: %v", err)
	}
	if decodedConfirm.Value != value {
		t.Fatalf("confirm round trip = %x, want %x", decodedConfirm.Value, value)
	}

	randomPDU := (&Random{Value: value}).Marshal()
	decodedRandom, err := UnmarshalRandom(randomPDU[1:])
	if err != nil {
		t.Fatalf("unmarshal random: %v", err)
	}
	if decodedRandom.Value != value {
		t.Fatalf("random round trip = %x, want %x", decodedRandom.Value, value)
	}
}

func TestPairingRandomBeforeConfirmIsRejected(t *testing.T) {
	transport := &fakeTransport{}
	sm := New(transport, [6]byte{1}, 0, [6]byte{2}, 1)

	req := &PairingRequest{IOCap: IOCapNoInputNoOutput, MaxKeySize: 16}
	if err := sm.HandlePDU(req.Marshal()); err != nil {
		t.Fatalf("pairing request: %v", err)
	}
	if sm.State() != StatePairingReq {
		t.Fatalf("state = %v, want pairing_req", sm.State())
	}

	if err := sm.HandlePDU((&Random{Value: [16]byte{0x01}}).Marshal()); err != nil {
		t.Fatalf("pairing random: %v", err)
	}
	if sm.State() != StateIdle {
		t.Fatalf("state = %v, want idle after rejection", sm.State())
	}
	if len(transport.sent) != 2 || transport.sent[1][0] != OpPairingFailed {
		t.Fatalf("expected a pairing failed reply after the request, got %v", transport.sent)
	}
	failedBody := transport.sent[1][1:]
	if len(failedBody) != 1 || FailReason(failedBody[0]) != ReasonUnspecifiedReason {
		t.Fatalf("expected UNSPECIFIED_REASON, got %v", failedBody)
	}
}

func TestPairingRequestRejectedWhenNotIdle(t *testing.T) {
	transport := &fakeTransport{}
	sm := New(transport, [6]byte{1}, 0, [6]byte{2}, 1)
	sm.state = StatePairingReq

	req := &PairingRequest{IOCap: IOCapNoInputNoOutput, MaxKeySize: 16}
	if err := sm.HandlePDU(req.Marshal()); err != nil {
		t.Fatalf("handle pdu: %v", err)
	}
	if sm.State() != StateIdle {
		t.Fatalf("state = %v, want idle after rejection", sm.State())
	}
	if len(transport.sent) != 1 || transport.sent[0][0] != OpPairingFailed {
		t.Fatalf("expected a pairing failed reply, got %v", transport.sent)
	}
}
