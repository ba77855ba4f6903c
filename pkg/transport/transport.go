// Package transport defines the abstract interface for byte-level channels
// used to reach a WHAD dongle: a serial link or a unix domain socket standing
// in for a virtual device. Implementations own the physical connection only;
// framing and message parsing live in pkg/framing and pkg/message.
package transport

import (
	"context"
	"time"
)

// ConnectionState represents the current state of a transport connection.
type ConnectionState int

const (
	// StateDisconnected indicates the transport is not connected.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates the transport is connected and ready.
	StateConnected
	// StateError indicates the transport is in an error state.
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is the core interface for all byte-level channels to a dongle.
// Implementations must be safe for concurrent use: Write may be called from
// one goroutine while Read blocks in another.
type Transport interface {
	// Open establishes the connection to the remote endpoint.
	Open(ctx context.Context) error

	// Close gracefully closes the connection and releases resources.
	Close() error

	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool

	// Write transmits bytes over the transport. Writes are serialized
	// internally so a header and its payload are never interleaved with a
	// concurrent write.
	Write(data []byte) (int, error)

	// Read waits for incoming bytes. An implementation may return no data
	// and a nil error when its read timeout expires; callers loop.
	Read(ctx context.Context) ([]byte, error)

	// Info returns runtime information about the transport.
	Info() Info

	// SetEventHandler sets the handler notified of connect/disconnect/error
	// events.
	SetEventHandler(handler EventHandler)
}

// Config holds the configuration for a transport.
type Config struct {
	// Type is the transport type ("serial" or "unixsocket").
	Type string `yaml:"type" json:"type"`

	// Address is the connection address: a serial device path
	// ("/dev/ttyUSB0", "COM1") or a unix socket path.
	Address string `yaml:"address" json:"address"`

	// Options contains transport-specific options (baudrate, parity, ...).
	Options map[string]interface{} `yaml:"options" json:"options"`

	// BufferSize is the size of the read buffer.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// Timeout is the default timeout for blocking reads.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Info contains runtime information about a transport.
type Info struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Address     string      `json:"address"`
	State       ConnectionState `json:"state"`
	Statistics  Statistics  `json:"statistics"`
	ConnectedAt *time.Time  `json:"connected_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}

// Statistics contains transport performance statistics.
type Statistics struct {
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	Errors        uint64 `json:"errors"`
}

// EventType represents the type of transport event.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventError
)

// Event represents a transport event.
type Event struct {
	Type      EventType
	Transport Transport
	Error     error
	Timestamp time.Time
}

// EventHandler handles transport events.
type EventHandler interface {
	OnEvent(event Event)
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(event Event)

// OnEvent implements EventHandler.
func (f EventHandlerFunc) OnEvent(event Event) { f(event) }

// Factory creates transport instances.
type Factory interface {
	// Type returns the transport type this factory creates.
	Type() string

	// Create creates a new transport instance with the given config.
	Create(config Config) (Transport, error)

	// Validate validates the configuration for this transport type.
	Validate(config Config) error
}

// Registry manages transport factories.
type Registry interface {
	Register(factory Factory) error
	Get(transportType string) (Factory, error)
	List() []string
	Create(config Config) (Transport, error)
}
