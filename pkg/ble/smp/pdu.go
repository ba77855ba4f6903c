package smp

import "fmt"

// PairingRequest is the SMP Pairing Request PDU (opcode 0x01), sent by the
// initiator to start pairing.
type PairingRequest struct {
	IOCap      IOCapability
	OOBData    OOBDataFlag
	AuthReq    byte
	MaxKeySize byte
	InitKeyDist byte
	RespKeyDist byte
}

// PairingResponse is the SMP Pairing Response PDU (opcode 0x02).
type PairingResponse struct {
	IOCap      IOCapability
	OOBData    OOBDataFlag
	AuthReq    byte
	MaxKeySize byte
	InitKeyDist byte
	RespKeyDist byte
}

func (p *PairingRequest) marshalBody() []byte {
	return []byte{byte(p.IOCap), byte(p.OOBData), p.AuthReq, p.MaxKeySize, p.InitKeyDist, p.RespKeyDist}
}

func (p *PairingResponse) marshalBody() []byte {
	return []byte{byte(p.IOCap), byte(p.OOBData), p.AuthReq, p.MaxKeySize, p.InitKeyDist, p.RespKeyDist}
}

// Marshal encodes a Pairing Request PDU, opcode included, as carried on
// L2CAP CID 0x06.
func (p *PairingRequest) Marshal() []byte {
	return append([]byte{OpPairingRequest}, p.marshalBody()...)
}

// Marshal encodes a Pairing Response PDU, opcode included.
func (p *PairingResponse) Marshal() []byte {
	return append([]byte{OpPairingResponse}, p.marshalBody()...)
}

func parsePairingBody(data []byte) (iocap IOCapability, oob OOBDataFlag, auth, maxKeySize, ikd, rkd byte, err error) {
	if len(data) != 6 {
		err = fmt.Errorf("smp: pairing PDU body must be 6 bytes, got %d", len(data))
		return
	}
	return IOCapability(data[0]), OOBDataFlag(data[1]), data[2], data[3], data[4], data[5], nil
}

// UnmarshalPairingRequest decodes a Pairing Request PDU body (opcode
// already stripped).
func UnmarshalPairingRequest(data []byte) (*PairingRequest, error) {
	iocap, oob, auth, maxKeySize, ikd, rkd, err := parsePairingBody(data)
	if err != nil {
		return nil, err
	}
	return &PairingRequest{IOCap: iocap, OOBData: oob, AuthReq: auth, MaxKeySize: maxKeySize, InitKeyDist: ikd, RespKeyDist: rkd}, nil
}

// UnmarshalPairingResponse decodes a Pairing Response PDU body.
func UnmarshalPairingResponse(data []byte) (*PairingResponse, error) {
	iocap, oob, auth, maxKeySize, ikd, rkd, err := parsePairingBody(data)
	if err != nil {
		return nil, err
	}
	return &PairingResponse{IOCap: iocap, OOBData: oob, AuthReq: auth, MaxKeySize: maxKeySize, InitKeyDist: ikd, RespKeyDist: rkd}, nil
}

// Confirm is the SMP Pairing Confirm PDU (opcode 0x03). Value holds the
// 16-byte confirm in the Core Spec's internal (MSB-first) order, directly
// comparable with c1's output; the wire carries it byte-reversed, and
// Marshal/UnmarshalConfirm convert at that boundary.
type Confirm struct {
	Value [16]byte
}

func (c *Confirm) Marshal() []byte {
	out := make([]byte, 17)
	out[0] = OpPairingConfirm
	wire := reverse16(c.Value)
	copy(out[1:], wire[:])
	return out
}

func UnmarshalConfirm(data []byte) (*Confirm, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("smp: confirm PDU body must be 16 bytes, got %d", len(data))
	}
	var wire [16]byte
	copy(wire[:], data)
	return &Confirm{Value: reverse16(wire)}, nil
}

// Random is the SMP Pairing Random PDU (opcode 0x04). Value follows the
// same internal-order/wire-reversed convention as Confirm.Value.
type Random struct {
	Value [16]byte
}

func (r *Random) Marshal() []byte {
	out := make([]byte, 17)
	out[0] = OpPairingRandom
	wire := reverse16(r.Value)
	copy(out[1:], wire[:])
	return out
}

func UnmarshalRandom(data []byte) (*Random, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("smp: random PDU body must be 16 bytes, got %d", len(data))
	}
	var wire [16]byte
	copy(wire[:], data)
	return &Random{Value: reverse16(wire)}, nil
}

// Failed is the SMP Pairing Failed PDU (opcode 0x05).
type Failed struct {
	Reason FailReason
}

func (f *Failed) Marshal() []byte {
	return []byte{OpPairingFailed, byte(f.Reason)}
}

func UnmarshalFailed(data []byte) (*Failed, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("smp: failed PDU body must be 1 byte, got %d", len(data))
	}
	return &Failed{Reason: FailReason(data[0])}, nil
}

// Decode dispatches a raw SMP PDU (opcode + body) to its concrete type.
func Decode(pdu []byte) (interface{}, error) {
	if len(pdu) < 1 {
		return nil, fmt.Errorf("smp: empty PDU")
	}
	op, body := pdu[0], pdu[1:]
	switch op {
	case OpPairingRequest:
		return UnmarshalPairingRequest(body)
	case OpPairingResponse:
		return UnmarshalPairingResponse(body)
	case OpPairingConfirm:
		return UnmarshalConfirm(body)
	case OpPairingRandom:
		return UnmarshalRandom(body)
	case OpPairingFailed:
		return UnmarshalFailed(body)
	default:
		return nil, fmt.Errorf("smp: unsupported opcode 0x%02x", op)
	}
}
