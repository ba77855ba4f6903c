package att

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// UUID16 is a Bluetooth SIG-assigned 16-bit UUID, carried directly on the
// wire rather than expanded to its 128-bit base-UUID form.
type UUID16 = uint16

// AttrUUID is either a 16-bit SIG UUID or a 128-bit vendor UUID, matching
// the two wire widths Read By Type / Find By Type Value / Read By Group
// Type all accept.
type AttrUUID struct {
	Short UUID16
	Long  uuid.UUID
	Is128 bool
}

func (u AttrUUID) Bytes() []byte {
	if !u.Is128 {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, u.Short)
		return b
	}
	b := make([]byte, 16)
	// UUIDs are little-endian on the ATT wire; uuid.UUID is big-endian.
	for i := 0; i < 16; i++ {
		b[i] = u.Long[15-i]
	}
	return b
}

func ShortUUID(v UUID16) AttrUUID { return AttrUUID{Short: v} }

func parseAttrUUID(b []byte) (AttrUUID, error) {
	switch len(b) {
	case 2:
		return AttrUUID{Short: binary.LittleEndian.Uint16(b)}, nil
	case 16:
		var u uuid.UUID
		for i := 0; i < 16; i++ {
			u[i] = b[15-i]
		}
		return AttrUUID{Long: u, Is128: true}, nil
	default:
		return AttrUUID{}, fmt.Errorf("att: invalid UUID length %d", len(b))
	}
}

// ErrorResponse builds the wire bytes for an Error Response carrying the
// failed opcode, its handle and the reason code.
func ErrorResponse(opcode Opcode, handle uint16, reason ErrorCode) []byte {
	return []byte{byte(OpErrorResponse), byte(opcode), byte(handle), byte(handle >> 8), byte(reason)}
}

// ExchangeMTUReq/Resp carry the requester's/responder's proposed ATT_MTU.
func ExchangeMTUReq(mtu uint16) []byte {
	return []byte{byte(OpExchangeMTUReq), byte(mtu), byte(mtu >> 8)}
}
func ExchangeMTUResp(mtu uint16) []byte {
	return []byte{byte(OpExchangeMTUResp), byte(mtu), byte(mtu >> 8)}
}
func parseMTU(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, fmt.Errorf("att: truncated MTU PDU")
	}
	return binary.LittleEndian.Uint16(body), nil
}

// ReadReq/Blob/Resp.
func ReadReq(handle uint16) []byte {
	return []byte{byte(OpReadReq), byte(handle), byte(handle >> 8)}
}
func ReadResp(value []byte) []byte {
	return append([]byte{byte(OpReadResp)}, value...)
}
func ReadBlobReq(handle, offset uint16) []byte {
	return []byte{byte(OpReadBlobReq), byte(handle), byte(handle >> 8), byte(offset), byte(offset >> 8)}
}
func ReadBlobResp(value []byte) []byte {
	return append([]byte{byte(OpReadBlobResp)}, value...)
}
func parseHandle(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, fmt.Errorf("att: truncated handle")
	}
	return binary.LittleEndian.Uint16(body), nil
}
func parseHandleOffset(body []byte) (handle, offset uint16, err error) {
	if len(body) < 4 {
		return 0, 0, fmt.Errorf("att: truncated read blob request")
	}
	return binary.LittleEndian.Uint16(body), binary.LittleEndian.Uint16(body[2:]), nil
}

// WriteReq/Cmd/Resp.
func WriteReq(handle uint16, value []byte) []byte {
	buf := []byte{byte(OpWriteReq), byte(handle), byte(handle >> 8)}
	return append(buf, value...)
}
func WriteCommand(handle uint16, value []byte) []byte {
	buf := []byte{byte(OpWriteCommand), byte(handle), byte(handle >> 8)}
	return append(buf, value...)
}
func WriteResp() []byte { return []byte{byte(OpWriteResp)} }

func parseHandleValue(body []byte) (handle uint16, value []byte, err error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("att: truncated handle-value PDU")
	}
	return binary.LittleEndian.Uint16(body), body[2:], nil
}

// PrepareWriteReq/Resp and ExecuteWriteReq/Resp, the long-write fallback
// used when a write exceeds MTU-3.
func PrepareWriteReq(handle, offset uint16, value []byte) []byte {
	buf := []byte{byte(OpPrepareWriteReq), byte(handle), byte(handle >> 8), byte(offset), byte(offset >> 8)}
	return append(buf, value...)
}
func PrepareWriteResp(handle, offset uint16, value []byte) []byte {
	buf := []byte{byte(OpPrepareWriteResp), byte(handle), byte(handle >> 8), byte(offset), byte(offset >> 8)}
	return append(buf, value...)
}
func parsePrepareWrite(body []byte) (handle, offset uint16, value []byte, err error) {
	if len(body) < 4 {
		return 0, 0, nil, fmt.Errorf("att: truncated prepare write")
	}
	return binary.LittleEndian.Uint16(body), binary.LittleEndian.Uint16(body[2:]), body[4:], nil
}

const (
	ExecuteWriteCancel uint8 = 0x00
	ExecuteWriteCommit uint8 = 0x01
)

func ExecuteWriteReq(flags uint8) []byte { return []byte{byte(OpExecuteWriteReq), flags} }
func ExecuteWriteResp() []byte          { return []byte{byte(OpExecuteWriteResp)} }

// FindInformationReq/Resp — discover handle/UUID pairs over a range.
func FindInformationReq(startHandle, endHandle uint16) []byte {
	return []byte{byte(OpFindInformationReq), byte(startHandle), byte(startHandle >> 8), byte(endHandle), byte(endHandle >> 8)}
}

type HandleUUID struct {
	Handle uint16
	UUID   AttrUUID
}

// FindInformationResp encodes a uniform-format list: format 1 for all-16-bit
// UUIDs, format 2 for all-128-bit, per Core Spec Vol 3 Part F 3.4.3.2.
func FindInformationResp(pairs []HandleUUID) []byte {
	if len(pairs) == 0 {
		return []byte{byte(OpFindInformationResp)}
	}
	format := byte(1)
	if pairs[0].UUID.Is128 {
		format = 2
	}
	buf := []byte{byte(OpFindInformationResp), format}
	for _, p := range pairs {
		buf = append(buf, byte(p.Handle), byte(p.Handle>>8))
		buf = append(buf, p.UUID.Bytes()...)
	}
	return buf
}
func parseHandleRange(body []byte) (start, end uint16, err error) {
	if len(body) < 4 {
		return 0, 0, fmt.Errorf("att: truncated handle range")
	}
	return binary.LittleEndian.Uint16(body), binary.LittleEndian.Uint16(body[2:]), nil
}

// FindByTypeValueReq/Resp.
func FindByTypeValueReq(start, end uint16, attrType UUID16, value []byte) []byte {
	buf := []byte{byte(OpFindByTypeValueReq), byte(start), byte(start >> 8), byte(end), byte(end >> 8), byte(attrType), byte(attrType >> 8)}
	return append(buf, value...)
}

type HandleRange struct {
	Start uint16
	End   uint16
}

func FindByTypeValueResp(ranges []HandleRange) []byte {
	buf := []byte{byte(OpFindByTypeValueResp)}
	for _, r := range ranges {
		buf = append(buf, byte(r.Start), byte(r.Start>>8), byte(r.End), byte(r.End>>8))
	}
	return buf
}

// ReadByTypeReq/Resp — used for characteristic declaration discovery.
func ReadByTypeReq(start, end uint16, attrType AttrUUID) []byte {
	buf := []byte{byte(OpReadByTypeReq), byte(start), byte(start >> 8), byte(end), byte(end >> 8)}
	return append(buf, attrType.Bytes()...)
}

type AttrValue struct {
	Handle uint16
	Value  []byte
}

// ReadByTypeResp encodes a uniform-length attribute-data list, per Core
// Spec Vol 3 Part F 3.4.4.2. All entries must share attr.Value's length for
// a valid single response; callers are responsible for paging when values
// differ, which the read-by-type-then-read fallback for oversize values
// handles at the GATT layer.
func ReadByTypeResp(attrs []AttrValue) []byte {
	if len(attrs) == 0 {
		return []byte{byte(OpReadByTypeResp)}
	}
	length := byte(2 + len(attrs[0].Value))
	buf := []byte{byte(OpReadByTypeResp), length}
	for _, a := range attrs {
		buf = append(buf, byte(a.Handle), byte(a.Handle>>8))
		buf = append(buf, a.Value...)
	}
	return buf
}

// ReadByGroupTypeReq/Resp — used for primary/included service discovery.
func ReadByGroupTypeReq(start, end uint16, groupType AttrUUID) []byte {
	buf := []byte{byte(OpReadByGroupTypeReq), byte(start), byte(start >> 8), byte(end), byte(end >> 8)}
	return append(buf, groupType.Bytes()...)
}

type GroupValue struct {
	Start uint16
	End   uint16
	Value []byte
}

func ReadByGroupTypeResp(groups []GroupValue) []byte {
	if len(groups) == 0 {
		return []byte{byte(OpReadByGroupTypeResp)}
	}
	length := byte(4 + len(groups[0].Value))
	buf := []byte{byte(OpReadByGroupTypeResp), length}
	for _, g := range groups {
		buf = append(buf, byte(g.Start), byte(g.Start>>8), byte(g.End), byte(g.End>>8))
		buf = append(buf, g.Value...)
	}
	return buf
}

// ReadMultipleReq/Resp.
func ReadMultipleReq(handles []uint16) []byte {
	buf := []byte{byte(OpReadMultipleReq)}
	for _, h := range handles {
		buf = append(buf, byte(h), byte(h>>8))
	}
	return buf
}
func ReadMultipleResp(values [][]byte) []byte {
	buf := []byte{byte(OpReadMultipleResp)}
	for _, v := range values {
		buf = append(buf, v...)
	}
	return buf
}

// HandleValueNotification/Indication/Confirmation.
func HandleValueNotification(handle uint16, value []byte) []byte {
	return append([]byte{byte(OpHandleValueNotification), byte(handle), byte(handle >> 8)}, value...)
}
func HandleValueIndication(handle uint16, value []byte) []byte {
	return append([]byte{byte(OpHandleValueIndication), byte(handle), byte(handle >> 8)}, value...)
}
func HandleValueConfirmation() []byte { return []byte{byte(OpHandleValueConfirmation)} }

// ParseError extracts the failed opcode, handle and reason from an Error
// Response body (opcode byte already stripped).
func ParseError(body []byte) (*Error, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("att: truncated error response")
	}
	return &Error{
		Opcode: Opcode(body[0]),
		Handle: binary.LittleEndian.Uint16(body[1:3]),
		Reason: ErrorCode(body[3]),
	}, nil
}
