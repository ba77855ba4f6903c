// Package unixsocket provides a transport over a unix domain socket, used to
// reach virtual devices (emulated dongles, or the far end of a process
// piping framed WHAD messages) instead of a physical serial port.
package unixsocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/transport"
)

// ErrNotOpen is returned when an operation is attempted on a closed socket.
var ErrNotOpen = errors.New("unix socket not open")

// Transport implements transport.Transport over a unix domain socket.
type Transport struct {
	mu sync.Mutex

	path string
	conn net.Conn

	id           string
	state        transport.ConnectionState
	eventHandler transport.EventHandler
	stats        transport.Statistics
	connectedAt  *time.Time

	readBuffer []byte
}

// New creates a new unix-socket transport.
func New(config transport.Config) (*Transport, error) {
	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Transport{
		path:       config.Address,
		id:         fmt.Sprintf("unixsocket-%s", config.Address),
		state:      transport.StateDisconnected,
		readBuffer: make([]byte, bufSize),
	}, nil
}

// Open dials the unix socket.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateConnected {
		return nil
	}
	t.state = transport.StateConnecting

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", t.path)
	if err != nil {
		t.state = transport.StateError
		return err
	}

	t.conn = conn
	now := time.Now()
	t.connectedAt = &now
	t.state = transport.StateConnected

	if t.eventHandler != nil {
		t.eventHandler.OnEvent(transport.Event{Type: transport.EventConnected, Transport: t, Timestamp: now})
	}
	return nil
}

// Close closes the unix socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateDisconnected {
		return nil
	}

	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.state = transport.StateDisconnected
	t.connectedAt = nil

	if t.eventHandler != nil {
		t.eventHandler.OnEvent(transport.Event{Type: transport.EventDisconnected, Transport: t, Error: err, Timestamp: time.Now()})
	}
	return err
}

// IsConnected reports whether the socket is currently open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == transport.StateConnected
}

// Write writes bytes to the socket.
func (t *Transport) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != transport.StateConnected || t.conn == nil {
		return 0, ErrNotOpen
	}

	n, err := t.conn.Write(data)
	if err != nil {
		t.stats.Errors++
		return n, err
	}
	t.stats.BytesSent += uint64(n)
	return n, nil
}

// Read waits for data until ctx's deadline, or for 250 ms when ctx has
// none, and returns (nil, nil) if the deadline passes first. Cancellation
// of ctx is not observed while a read is in progress.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if t.state != transport.StateConnected || t.conn == nil {
		t.mu.Unlock()
		return nil, ErrNotOpen
	}
	conn := t.conn
	t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	}

	n, err := conn.Read(t.readBuffer)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		t.mu.Lock()
		t.stats.Errors++
		t.mu.Unlock()
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	data := make([]byte, n)
	copy(data, t.readBuffer[:n])

	t.mu.Lock()
	t.stats.BytesReceived += uint64(n)
	t.mu.Unlock()

	return data, nil
}

// Info returns transport information.
func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return transport.Info{
		ID:          t.id,
		Type:        "unixsocket",
		Address:     t.path,
		State:       t.state,
		Statistics:  t.stats,
		ConnectedAt: t.connectedAt,
	}
}

// SetEventHandler sets the event handler.
func (t *Transport) SetEventHandler(handler transport.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventHandler = handler
}

// Factory creates unix-socket transport instances.
type Factory struct{}

// NewFactory creates a new unix-socket transport factory.
func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Type() string { return "unixsocket" }

func (f *Factory) Create(config transport.Config) (transport.Transport, error) {
	return New(config)
}

func (f *Factory) Validate(config transport.Config) error {
	if config.Address == "" {
		return errors.New("unix socket path is required")
	}
	return nil
}
