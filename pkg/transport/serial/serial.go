// Package serial provides a serial port transport implementation for the
// RS232/USB-CDC links most WHAD dongles expose.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/whad-go/whad/pkg/transport"
	"go.bug.st/serial"
)

// Common errors.
var (
	ErrPortNotOpen = errors.New("serial port not open")
)

// Config holds serial-specific configuration.
type Config struct {
	Port     string  `yaml:"port" json:"port"`
	BaudRate int     `yaml:"baudrate" json:"baudrate"`
	DataBits int     `yaml:"databits" json:"databits"`
	Parity   string  `yaml:"parity" json:"parity"`
	StopBits float64 `yaml:"stopbits" json:"stopbits"`

	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	BufferSize  int           `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns a default serial configuration matching the baud
// rate most WHAD firmwares boot at before SetTransportSpeed is issued.
func DefaultConfig() Config {
	return Config{
		BaudRate:    115200,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: 100 * time.Millisecond,
		BufferSize:  4096,
	}
}

// Transport implements transport.Transport for serial ports.
type Transport struct {
	mu sync.Mutex

	config  Config
	tConfig transport.Config
	port    serial.Port

	id           string
	state        transport.ConnectionState
	eventHandler transport.EventHandler
	stats        transport.Statistics

	readBuffer  []byte
	connectedAt *time.Time
}

// New creates a new serial transport.
func New(config transport.Config) (*Transport, error) {
	serialConfig := DefaultConfig()

	if config.Address != "" {
		serialConfig.Port = config.Address
	}
	if opts := config.Options; opts != nil {
		if v, ok := opts["baudrate"].(int); ok {
			serialConfig.BaudRate = v
		}
		if v, ok := opts["parity"].(string); ok {
			serialConfig.Parity = v
		}
		if v, ok := opts["stopbits"].(float64); ok {
			serialConfig.StopBits = v
		}
	}
	if config.BufferSize > 0 {
		serialConfig.BufferSize = config.BufferSize
	}
	if config.Timeout > 0 {
		serialConfig.ReadTimeout = config.Timeout
	}

	return &Transport{
		config:     serialConfig,
		tConfig:    config,
		id:         fmt.Sprintf("serial-%s", serialConfig.Port),
		state:      transport.StateDisconnected,
		readBuffer: make([]byte, serialConfig.BufferSize),
	}, nil
}

// Open opens the serial port.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateConnected {
		return nil
	}
	t.state = transport.StateConnecting

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   t.parseParity(),
		StopBits: t.parseStopBits(),
	}

	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		t.state = transport.StateError
		return err
	}
	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		port.Close()
		t.state = transport.StateError
		return err
	}

	t.port = port
	now := time.Now()
	t.connectedAt = &now
	t.state = transport.StateConnected

	if t.eventHandler != nil {
		t.eventHandler.OnEvent(transport.Event{Type: transport.EventConnected, Transport: t, Timestamp: now})
	}
	return nil
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == transport.StateDisconnected {
		return nil
	}

	var err error
	if t.port != nil {
		err = t.port.Close()
		t.port = nil
	}
	t.state = transport.StateDisconnected
	t.connectedAt = nil

	if t.eventHandler != nil {
		t.eventHandler.OnEvent(transport.Event{Type: transport.EventDisconnected, Transport: t, Error: err, Timestamp: time.Now()})
	}
	return err
}

// IsConnected returns true if the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == transport.StateConnected
}

// Write sends data to the serial port. Concurrent writers are serialized by
// the transport mutex so a framed header and its payload are never
// interleaved.
func (t *Transport) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != transport.StateConnected || t.port == nil {
		return 0, ErrPortNotOpen
	}

	n, err := t.port.Write(data)
	if err != nil {
		t.stats.Errors++
		return n, err
	}
	t.stats.BytesSent += uint64(n)
	return n, nil
}

// Read reads whatever bytes are currently available from the serial port.
// It returns (nil, nil) on a read-timeout with no data, letting the caller
// loop without treating every idle tick as an error.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if t.state != transport.StateConnected || t.port == nil {
		t.mu.Unlock()
		return nil, ErrPortNotOpen
	}
	port := t.port
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	n, err := port.Read(t.readBuffer)
	if err != nil {
		if err == io.EOF {
			return nil, ErrPortNotOpen
		}
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
		Type:        "serial",
		Address:     t.config.Port,
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

func (t *Transport) parseParity() serial.Parity {
	switch t.config.Parity {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func (t *Transport) parseStopBits() serial.StopBits {
	switch t.config.StopBits {
	case 1.5:
		return serial.OnePointFiveStopBits
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// Factory creates serial transport instances.
type Factory struct{}

// NewFactory creates a new serial transport factory.
func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Type() string { return "serial" }

func (f *Factory) Create(config transport.Config) (transport.Transport, error) {
	return New(config)
}

func (f *Factory) Validate(config transport.Config) error {
	if config.Address == "" {
		return errors.New("serial port address is required")
	}
	return nil
}
