package gatt

import (
	"sync"

	"github.com/whad-go/whad/pkg/ble/att"
)

// Subscriber abstracts the per-connection subscription-tracking a
// ble.Connection provides, letting Server stay decoupled from package ble.
type Subscriber interface {
	Subscribe(handle uint16, notify, indicate bool)
	Unsubscribe(handle uint16)
	IsSubscribed(handle uint16) bool
}

// pendingWrite is one queued Prepare Write awaiting Execute Write.
type pendingWrite struct {
	handle uint16
	offset uint16
	value  []byte
}

// Server answers ATT requests against a DB by walking handles and
// enforcing per-attribute permissions, and emits notifications and
// indications to subscribers on value change, with at most one
// outstanding indication per CCCD-enabled attribute
// (awaits Confirmation before next)."
type Server struct {
	mu   sync.Mutex
	db   *DB
	att  *att.Layer
	sub  Subscriber

	prepareQueue []pendingWrite

	// indicationInFlight/pendingIndications implement the at-most-one gate:
	// a second Indicate call while one is outstanding is queued rather than
	// sent immediately.
	indicationInFlight bool
	pendingIndications []indicateCall
}

type indicateCall struct {
	handle uint16
	value  []byte
}

// NewServer builds a Server over db, registering its handlers on layer and
// tracking subscriptions via sub.
func NewServer(db *DB, layer *att.Layer, sub Subscriber) *Server {
	s := &Server{db: db, att: layer, sub: sub}
	layer.RegisterHandler(att.OpReadReq, s.handleRead)
	layer.RegisterHandler(att.OpReadBlobReq, s.handleReadBlob)
	layer.RegisterHandler(att.OpReadByTypeReq, s.handleReadByType)
	layer.RegisterHandler(att.OpReadByGroupTypeReq, s.handleReadByGroupType)
	layer.RegisterHandler(att.OpFindInformationReq, s.handleFindInformation)
	layer.RegisterHandler(att.OpFindByTypeValueReq, s.handleFindByTypeValue)
	layer.RegisterHandler(att.OpWriteReq, s.handleWrite)
	layer.RegisterHandler(att.OpPrepareWriteReq, s.handlePrepareWrite)
	layer.RegisterHandler(att.OpExecuteWriteReq, s.handleExecuteWrite)
	layer.OnConfirmation = s.onConfirmation
	return s
}

// HandleWriteCommand processes an unacknowledged Write Command PDU (no
// response expected), separate from the request-handler table since
// Layer.HandleIncoming only auto-answers request-bearing opcodes.
func (s *Server) HandleWriteCommand(pdu []byte) {
	if len(pdu) < 3 {
		return
	}
	handle := uint16(pdu[1]) | uint16(pdu[2])<<8
	value := pdu[3:]
	s.writeAttribute(handle, value, false)
}

func (s *Server) handleRead(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	handle, err := parseHandleBody(body)
	if err != nil {
		return nil, &att.Error{Opcode: opcode, Handle: 0, Reason: att.ErrInvalidPDU}
	}
	attr := s.db.Get(handle)
	if attr == nil {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrInvalidHandle}
	}
	if !attr.Permissions.Read {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrReadNotPermitted}
	}
	if attr.Permissions.RequireEncryption {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrInsufficientAuthentication}
	}
	return att.ReadResp(attr.Value), nil
}

func (s *Server) handleReadBlob(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	handle, offset, err := parseHandleOffsetBody(body)
	if err != nil {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	attr := s.db.Get(handle)
	if attr == nil {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrInvalidHandle}
	}
	if !attr.Permissions.Read {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrReadNotPermitted}
	}
	if int(offset) > len(attr.Value) {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrInvalidOffset}
	}
	return att.ReadBlobResp(attr.Value[offset:]), nil
}

func (s *Server) handleReadByType(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	if len(body) < 4 {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	start := uint16(body[0]) | uint16(body[1])<<8
	end := uint16(body[2]) | uint16(body[3])<<8
	uuid, uerr := parseAttrUUIDBody(body[4:])
	if uerr != nil {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrInvalidPDU}
	}

	var matches []att.AttrValue
	for _, a := range s.db.Range(start, end) {
		if !sameUUID(a.UUID, uuid) {
			continue
		}
		if !a.Permissions.Read {
			continue
		}
		matches = append(matches, att.AttrValue{Handle: a.Handle, Value: a.Value})
		if len(matches) > 1 && len(a.Value) != len(matches[0].Value) {
			// Stop before mixing lengths; a single uniform-length
			// response is all one PDU can carry.
			matches = matches[:len(matches)-1]
			break
		}
	}
	if len(matches) == 0 {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrAttributeNotFound}
	}
	return att.ReadByTypeResp(matches), nil
}

func (s *Server) handleReadByGroupType(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	if len(body) < 4 {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	start := uint16(body[0]) | uint16(body[1])<<8
	end := uint16(body[2]) | uint16(body[3])<<8
	uuid, uerr := parseAttrUUIDBody(body[4:])
	if uerr != nil {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrInvalidPDU}
	}
	if uuid.Short != UUIDPrimaryService && uuid.Short != UUIDSecondaryService {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrUnsupportedGroupType}
	}

	var groups []att.GroupValue
	for _, a := range s.db.Range(start, end) {
		if a.UUID.Short != uuid.Short || a.UUID.Is128 {
			continue
		}
		groups = append(groups, att.GroupValue{Start: a.Handle, End: a.GroupEnd, Value: a.Value})
		break // one group per response keeps the uniform-length rule trivial
	}
	if len(groups) == 0 {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrAttributeNotFound}
	}
	return att.ReadByGroupTypeResp(groups), nil
}

func (s *Server) handleFindInformation(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	if len(body) < 4 {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	start := uint16(body[0]) | uint16(body[1])<<8
	end := uint16(body[2]) | uint16(body[3])<<8

	var pairs []att.HandleUUID
	for _, a := range s.db.Range(start, end) {
		pairs = append(pairs, att.HandleUUID{Handle: a.Handle, UUID: a.UUID})
		if len(pairs) > 1 && pairs[0].UUID.Is128 != a.UUID.Is128 {
			pairs = pairs[:len(pairs)-1]
			break
		}
	}
	if len(pairs) == 0 {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrAttributeNotFound}
	}
	return att.FindInformationResp(pairs), nil
}

func (s *Server) handleFindByTypeValue(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	if len(body) < 6 {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	start := uint16(body[0]) | uint16(body[1])<<8
	end := uint16(body[2]) | uint16(body[3])<<8
	attrType := uint16(body[4]) | uint16(body[5])<<8
	value := body[6:]

	var ranges []att.HandleRange
	for _, a := range s.db.Range(start, end) {
		if a.UUID.Short != attrType || a.UUID.Is128 {
			continue
		}
		if string(a.Value) == string(value) {
			ranges = append(ranges, att.HandleRange{Start: a.Handle, End: a.GroupEnd})
		}
	}
	if len(ranges) == 0 {
		return nil, &att.Error{Opcode: opcode, Handle: start, Reason: att.ErrAttributeNotFound}
	}
	return att.FindByTypeValueResp(ranges), nil
}

func (s *Server) handleWrite(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	if len(body) < 2 {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	handle := uint16(body[0]) | uint16(body[1])<<8
	value := body[2:]
	if attErr := s.writeAttribute(handle, value, true); attErr != nil {
		return nil, attErr
	}
	return att.WriteResp(), nil
}

func (s *Server) writeAttribute(handle uint16, value []byte, checkPerm bool) *att.Error {
	attr := s.db.Get(handle)
	if attr == nil {
		return &att.Error{Opcode: att.OpWriteReq, Handle: handle, Reason: att.ErrInvalidHandle}
	}
	if checkPerm && !attr.Permissions.Write {
		return &att.Error{Opcode: att.OpWriteReq, Handle: handle, Reason: att.ErrWriteNotPermitted}
	}

	if attr.UUID.Short == UUIDCCCD {
		cccd := uint16(0)
		if len(value) >= 2 {
			cccd = uint16(value[0]) | uint16(value[1])<<8
		}
		if s.sub != nil {
			// The CCCD attribute immediately precedes no fixed offset from
			// its characteristic value handle in general, so subscription
			// is tracked against the CCCD's own handle; callers resolve
			// the owning characteristic's handle when delivering.
			s.sub.Subscribe(handle, cccd&CCCDNotify != 0, cccd&CCCDIndicate != 0)
			if cccd == 0 {
				s.sub.Unsubscribe(handle)
			}
		}
	}

	_ = s.db.SetValue(handle, value)
	return nil
}

func (s *Server) handlePrepareWrite(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	handle, offset, value, err := parsePrepareWriteBody(body)
	if err != nil {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	attr := s.db.Get(handle)
	if attr == nil {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrInvalidHandle}
	}
	if !attr.Permissions.Write {
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrWriteNotPermitted}
	}

	s.mu.Lock()
	if len(s.prepareQueue) >= 256 {
		s.mu.Unlock()
		return nil, &att.Error{Opcode: opcode, Handle: handle, Reason: att.ErrPrepareQueueFull}
	}
	s.prepareQueue = append(s.prepareQueue, pendingWrite{handle: handle, offset: offset, value: append([]byte{}, value...)})
	s.mu.Unlock()

	return att.PrepareWriteResp(handle, offset, value), nil
}

func (s *Server) handleExecuteWrite(opcode att.Opcode, body []byte) ([]byte, *att.Error) {
	if len(body) < 1 {
		return nil, &att.Error{Opcode: opcode, Reason: att.ErrInvalidPDU}
	}
	flags := body[0]

	s.mu.Lock()
	queue := s.prepareQueue
	s.prepareQueue = nil
	s.mu.Unlock()

	if flags == att.ExecuteWriteCancel {
		return att.ExecuteWriteResp(), nil
	}

	assembled := make(map[uint16][]byte)
	for _, w := range queue {
		assembled[w.handle] = append(assembled[w.handle], w.value...)
	}
	for handle, value := range assembled {
		if attErr := s.writeAttribute(handle, value, true); attErr != nil {
			return nil, attErr
		}
	}
	return att.ExecuteWriteResp(), nil
}

// Notify pushes a Handle Value Notification for handle if the peer is
// currently subscribed to it; it is a no-op otherwise. The subscription
// record does not distinguish notify from indicate, so an indicate-only
// subscription also receives notifications.
func (s *Server) Notify(handle uint16, value []byte) error {
	if s.sub == nil || !s.sub.IsSubscribed(handle) {
		return nil
	}
	return s.att.SendCommand(att.HandleValueNotification(handle, value))
}

// Indicate pushes a Handle Value Indication, queuing it if one is already
// outstanding for this connection so at most one indication is ever
// unconfirmed at a time.
func (s *Server) Indicate(handle uint16, value []byte) error {
	if s.sub == nil || !s.sub.IsSubscribed(handle) {
		return nil
	}

	s.mu.Lock()
	if s.indicationInFlight {
		s.pendingIndications = append(s.pendingIndications, indicateCall{handle: handle, value: value})
		s.mu.Unlock()
		return nil
	}
	s.indicationInFlight = true
	s.mu.Unlock()

	return s.att.SendCommand(att.HandleValueIndication(handle, value))
}

func (s *Server) onConfirmation() {
	s.mu.Lock()
	if len(s.pendingIndications) == 0 {
		s.indicationInFlight = false
		s.mu.Unlock()
		return
	}
	next := s.pendingIndications[0]
	s.pendingIndications = s.pendingIndications[1:]
	s.mu.Unlock()

	_ = s.att.SendCommand(att.HandleValueIndication(next.handle, next.value))
}

func sameUUID(a, b att.AttrUUID) bool {
	if a.Is128 != b.Is128 {
		return false
	}
	if a.Is128 {
		return a.Long == b.Long
	}
	return a.Short == b.Short
}

func parseHandleBody(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, errShort
	}
	return uint16(body[0]) | uint16(body[1])<<8, nil
}

func parseHandleOffsetBody(body []byte) (uint16, uint16, error) {
	if len(body) < 4 {
		return 0, 0, errShort
	}
	return uint16(body[0]) | uint16(body[1])<<8, uint16(body[2]) | uint16(body[3])<<8, nil
}

func parsePrepareWriteBody(body []byte) (handle, offset uint16, value []byte, err error) {
	if len(body) < 4 {
		return 0, 0, nil, errShort
	}
	return uint16(body[0]) | uint16(body[1])<<8, uint16(body[2]) | uint16(body[3])<<8, body[4:], nil
}

func parseAttrUUIDBody(b []byte) (att.AttrUUID, error) {
	switch len(b) {
	case 2:
		return att.AttrUUID{Short: uint16(b[0]) | uint16(b[1])<<8}, nil
	default:
		return att.AttrUUID{}, errShort
	}
}

type shortBodyError string

func (e shortBodyError) Error() string { return string(e) }

const errShort = shortBodyError("gatt: truncated PDU body")
