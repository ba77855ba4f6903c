// Package att implements the BLE Attribute Protocol: wire PDU
// parsing/serialization for every supported opcode, a request/response
// correlation layer analogous to pkg/device's SendCommand, and the
// Exchange-MTU handling that bridges into pkg/ble/l2cap's per-connection
// MTU state.
//
// Opcode and error-code tables are grounded in paypal-gatt's att.go, the
// same values the Bluetooth Core Spec Vol 3 Part F Section 3.4 assigns.
package att

// Opcode is one ATT PDU's method/response byte.
type Opcode byte

const (
	OpErrorResponse          Opcode = 0x01
	OpExchangeMTUReq         Opcode = 0x02
	OpExchangeMTUResp        Opcode = 0x03
	OpFindInformationReq     Opcode = 0x04
	OpFindInformationResp    Opcode = 0x05
	OpFindByTypeValueReq     Opcode = 0x06
	OpFindByTypeValueResp    Opcode = 0x07
	OpReadByTypeReq          Opcode = 0x08
	OpReadByTypeResp         Opcode = 0x09
	OpReadReq                Opcode = 0x0a
	OpReadResp               Opcode = 0x0b
	OpReadBlobReq            Opcode = 0x0c
	OpReadBlobResp           Opcode = 0x0d
	OpReadMultipleReq        Opcode = 0x0e
	OpReadMultipleResp       Opcode = 0x0f
	OpReadByGroupTypeReq     Opcode = 0x10
	OpReadByGroupTypeResp    Opcode = 0x11
	OpWriteReq               Opcode = 0x12
	OpWriteResp              Opcode = 0x13
	OpWriteCommand           Opcode = 0x52
	OpPrepareWriteReq        Opcode = 0x16
	OpPrepareWriteResp       Opcode = 0x17
	OpExecuteWriteReq        Opcode = 0x18
	OpExecuteWriteResp       Opcode = 0x19
	OpHandleValueNotification Opcode = 0x1b
	OpHandleValueIndication  Opcode = 0x1d
	OpHandleValueConfirmation Opcode = 0x1e
)

// requestToResponse maps each handled request opcode to the response
// opcode a correlated SendRequest waits for.
var requestToResponse = map[Opcode]Opcode{
	OpExchangeMTUReq:     OpExchangeMTUResp,
	OpFindInformationReq: OpFindInformationResp,
	OpFindByTypeValueReq: OpFindByTypeValueResp,
	OpReadByTypeReq:      OpReadByTypeResp,
	OpReadReq:            OpReadResp,
	OpReadBlobReq:        OpReadBlobResp,
	OpReadMultipleReq:    OpReadMultipleResp,
	OpReadByGroupTypeReq: OpReadByGroupTypeResp,
	OpWriteReq:           OpWriteResp,
	OpPrepareWriteReq:    OpPrepareWriteResp,
	OpExecuteWriteReq:    OpExecuteWriteResp,
}

// IsRequest reports whether op is a request-bearing opcode that expects
// either its paired response or an Error Response.
func IsRequest(op Opcode) bool {
	_, ok := requestToResponse[op]
	return ok
}

// ErrorCode is the single-byte reason carried by an Error Response.
type ErrorCode byte

// Error codes, Core Spec Vol 3 Part F Section 3.4.1.1.
const (
	ErrInvalidHandle              ErrorCode = 0x01
	ErrReadNotPermitted           ErrorCode = 0x02
	ErrWriteNotPermitted          ErrorCode = 0x03
	ErrInvalidPDU                 ErrorCode = 0x04
	ErrInsufficientAuthentication ErrorCode = 0x05
	ErrRequestNotSupported        ErrorCode = 0x06
	ErrInvalidOffset              ErrorCode = 0x07
	ErrInsufficientAuthorization  ErrorCode = 0x08
	ErrPrepareQueueFull           ErrorCode = 0x09
	ErrAttributeNotFound          ErrorCode = 0x0a
	ErrAttributeNotLong           ErrorCode = 0x0b
	ErrInsufficientEncryptionKeySize ErrorCode = 0x0c
	ErrInvalidAttributeValueLength ErrorCode = 0x0d
	ErrUnlikelyError              ErrorCode = 0x0e
	ErrInsufficientEncryption     ErrorCode = 0x0f
	ErrUnsupportedGroupType       ErrorCode = 0x10
	ErrInsufficientResources      ErrorCode = 0x11
)

func (e ErrorCode) Error() string {
	switch e {
	case ErrInvalidHandle:
		return "invalid handle"
	case ErrReadNotPermitted:
		return "read not permitted"
	case ErrWriteNotPermitted:
		return "write not permitted"
	case ErrInvalidPDU:
		return "invalid PDU"
	case ErrInsufficientAuthentication:
		return "insufficient authentication"
	case ErrRequestNotSupported:
		return "request not supported"
	case ErrInvalidOffset:
		return "invalid offset"
	case ErrInsufficientAuthorization:
		return "insufficient authorization"
	case ErrPrepareQueueFull:
		return "prepare queue full"
	case ErrAttributeNotFound:
		return "attribute not found"
	case ErrAttributeNotLong:
		return "attribute not long"
	case ErrInsufficientEncryptionKeySize:
		return "insufficient encryption key size"
	case ErrInvalidAttributeValueLength:
		return "invalid attribute value length"
	case ErrUnlikelyError:
		return "unlikely error"
	case ErrInsufficientEncryption:
		return "insufficient encryption"
	case ErrUnsupportedGroupType:
		return "unsupported group type"
	case ErrInsufficientResources:
		return "insufficient resources"
	default:
		return "unknown ATT error"
	}
}

// Error is a structured ATT error: opcode + handle + reason.
type Error struct {
	Opcode  Opcode
	Handle  uint16
	Reason  ErrorCode
}

func (e *Error) Error() string {
	return e.Reason.Error()
}
