package att

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/ble/l2cap"
)

// ErrTimeout is returned when a request's correlated response does not
// arrive before its deadline, the ATT analogue of device.ErrTimeout.
var ErrTimeout = errors.New("att: request timed out")

// Transport sends one complete ATT PDU (opcode byte included) down to the
// peer over L2CAP CID 0x0004.
type Transport interface {
	Send(pdu []byte) error
}

// RequestHandler answers one incoming request opcode with either a
// response PDU (including its opcode byte) or a structured *Error, which
// Layer turns into an Error Response automatically.
type RequestHandler func(opcode Opcode, body []byte) ([]byte, *Error)

// Layer translates wire ATT PDUs to/from the opcodes and typed accessors
// this package defines, correlates outstanding requests with their
// responses the way pkg/device.SendCommand correlates dongle commands, and
// automatically answers Exchange MTU requests by updating the bound
// l2cap.Channel (remote MTU becomes min(req.mtu, local_max), the reply
// carries the local MTU).
type Layer struct {
	mu        sync.Mutex
	transport Transport
	l2        *l2cap.Channel
	handlers  map[Opcode]RequestHandler
	waiters   []*waiter

	// OnNotification/OnIndication fire for unsolicited server->client
	// pushes. Layer does not confirm indications by itself; the Handle
	// Value Confirmation is sent separately (gatt.Client.ConfirmIndication).
	OnNotification func(handle uint16, value []byte)
	OnIndication   func(handle uint16, value []byte)
	// OnConfirmation fires when the peer confirms an indication this side
	// sent, releasing the "at most one outstanding indication" gate the
	// GATT server enforces.
	OnConfirmation func()
}

type waiter struct {
	reqOpcode Opcode
	ch        chan []byte
	errCh     chan *Error
}

// NewLayer builds an ATT Layer bound to transport and the connection's
// L2CAP channel state.
func NewLayer(transport Transport, l2 *l2cap.Channel) *Layer {
	return &Layer{
		transport: transport,
		l2:        l2,
		handlers:  make(map[Opcode]RequestHandler),
	}
}

// RegisterHandler binds a server-side handler for opcode, invoked from
// HandleIncoming whenever that request arrives.
func (l *Layer) RegisterHandler(opcode Opcode, h RequestHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[opcode] = h
}

// localMaxMTU bounds what this side will ever advertise as its ATT_MTU: it
// is the local MTU of the bound l2cap.Channel, which callers set through
// l2cap.New or Channel.SetLocalMTU before any Exchange MTU Request arrives.
func (l *Layer) localMaxMTU() uint16 {
	return l.l2.LocalMTU()
}

// HandleIncoming processes one complete inbound ATT PDU. Request opcodes
// with a registered handler are answered synchronously; an unregistered
// request-bearing opcode gets REQUEST_NOT_SUPPORTED; responses are routed to
// the oldest matching outstanding SendRequest; notifications/indications/
// confirmations invoke their callbacks.
func (l *Layer) HandleIncoming(pdu []byte) error {
	if len(pdu) == 0 {
		return fmt.Errorf("att: empty PDU")
	}
	opcode := Opcode(pdu[0])
	body := pdu[1:]

	switch opcode {
	case OpErrorResponse:
		attErr, err := ParseError(body)
		if err != nil {
			return err
		}
		l.routeError(attErr)
		return nil
	case OpHandleValueNotification:
		handle, value, err := parseHandleValue(body)
		if err != nil {
			return err
		}
		if l.OnNotification != nil {
			l.OnNotification(handle, value)
		}
		return nil
	case OpHandleValueIndication:
		handle, value, err := parseHandleValue(body)
		if err != nil {
			return err
		}
		if l.OnIndication != nil {
			l.OnIndication(handle, value)
		}
		return nil
	case OpHandleValueConfirmation:
		if l.OnConfirmation != nil {
			l.OnConfirmation()
		}
		return nil
	}

	if resp, ok := l.routeResponse(opcode, body); ok {
		_ = resp
		return nil
	}

	return l.handleRequest(opcode, body)
}

// handleRequest answers a request opcode via its registered handler, with
// built-in Exchange MTU handling and the REQUEST_NOT_SUPPORTED fallback.
func (l *Layer) handleRequest(opcode Opcode, body []byte) error {
	if opcode == OpExchangeMTUReq {
		mtu, err := parseMTU(body)
		if err != nil {
			return l.send(ErrorResponse(opcode, 0, ErrInvalidPDU))
		}
		local := l.localMaxMTU()
		negotiated := mtu
		if local < negotiated {
			negotiated = local
		}
		l.l2.SetRemoteMTU(negotiated)
		return l.send(ExchangeMTUResp(local))
	}

	l.mu.Lock()
	h, ok := l.handlers[opcode]
	l.mu.Unlock()
	if !ok {
		if IsRequest(opcode) {
			return l.send(ErrorResponse(opcode, 0x0000, ErrRequestNotSupported))
		}
		return fmt.Errorf("att: unhandled non-request opcode %#02x", opcode)
	}

	resp, attErr := h(opcode, body)
	if attErr != nil {
		return l.send(ErrorResponse(attErr.Opcode, attErr.Handle, attErr.Reason))
	}
	return l.send(resp)
}

// routeResponse delivers body to the oldest waiter expecting opcode's reply,
// if one is outstanding.
func (l *Layer) routeResponse(opcode Opcode, body []byte) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if requestToResponse[w.reqOpcode] == opcode {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			w.ch <- body
			return body, true
		}
	}
	return nil, false
}

func (l *Layer) routeError(attErr *Error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w.reqOpcode == attErr.Opcode {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			w.errCh <- attErr
			return
		}
	}
}

// SendRequest writes a request PDU (opcode byte included) and blocks for
// its correlated response or Error Response, the client-side half of the
// GATT discovery/read/write sequences.
func (l *Layer) SendRequest(ctx context.Context, pdu []byte, timeout time.Duration) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("att: empty request PDU")
	}
	opcode := Opcode(pdu[0])
	if !IsRequest(opcode) {
		return nil, fmt.Errorf("att: opcode %#02x is not a request", opcode)
	}

	w := &waiter{reqOpcode: opcode, ch: make(chan []byte, 1), errCh: make(chan *Error, 1)}
	l.mu.Lock()
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	if err := l.send(pdu); err != nil {
		return nil, err
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case body := <-w.ch:
		return body, nil
	case attErr := <-w.errCh:
		return nil, attErr
	case <-waitCtx.Done():
		return nil, ErrTimeout
	}
}

// SendCommand writes a fire-and-forget PDU (Write Command, notification,
// etc.) with no correlated response expected.
func (l *Layer) SendCommand(pdu []byte) error {
	return l.send(pdu)
}

func (l *Layer) send(pdu []byte) error {
	return l.transport.Send(pdu)
}
