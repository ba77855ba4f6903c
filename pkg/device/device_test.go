package device

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whad-go/whad/pkg/capability"
	"github.com/whad-go/whad/pkg/framing"
	"github.com/whad-go/whad/pkg/message"
	"github.com/whad-go/whad/pkg/transport"
)

// fakeDongle is an in-memory transport that answers the discovery
// handshake the way a dongle firmware would, and records every command it
// receives in order.
type fakeDongle struct {
	mu       sync.Mutex
	codec    *framing.Codec
	hub      *message.Hub
	incoming chan []byte
	open     bool

	commands []string // sub-tags in arrival order
	words    []uint32 // capability words reported by device_info_resp
}

func newFakeDongle(words []uint32) *fakeDongle {
	return &fakeDongle{
		codec:    framing.NewCodec(0),
		hub:      message.NewHub(message.Global(), ProtocolVersion),
		incoming: make(chan []byte, 32),
		words:    words,
	}
}

func (f *fakeDongle) Open(ctx context.Context) error { f.open = true; return nil }
func (f *fakeDongle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.open = false
		close(f.incoming)
	}
	return nil
}
func (f *fakeDongle) IsConnected() bool { return f.open }
func (f *fakeDongle) Info() transport.Info {
	return transport.Info{Type: "fake"}
}
func (f *fakeDongle) SetEventHandler(handler transport.EventHandler) {}

func (f *fakeDongle) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-f.incoming:
		if !ok {
			return nil, context.Canceled
		}
		return data, nil
	}
}

func (f *fakeDongle) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.codec.Write(data); err != nil {
		return 0, err
	}
	for _, payload := range f.codec.Drain() {
		msg, err := f.hub.Parse(payload)
		if err != nil {
			continue
		}
		f.commands = append(f.commands, msg.SubTag)
		f.respond(msg)
	}
	return len(data), nil
}

func (f *fakeDongle) respond(msg *message.Message) {
	g, ok := msg.Body.(*message.Generic)
	if !ok {
		// Domain commands are acknowledged with a bare success result.
		f.push(&message.Generic{Tag: "result", Payload: resultPayload(message.ResultSuccess)})
		return
	}
	switch g.Tag {
	case "device_info_query":
		f.push(&message.Generic{Tag: "device_info_resp", Payload: f.deviceInfoPayload()})
	case "device_domain_info_query":
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, 0x0000ffff)
		f.push(&message.Generic{Tag: "device_domain_info_resp", Payload: payload})
	case "set_transport_speed":
		f.push(&message.Generic{Tag: "result", Payload: resultPayload(message.ResultSuccess)})
	case "reset":
		f.push(&message.Generic{Tag: "ready_resp"})
	}
}

func (f *fakeDongle) push(body message.Body) {
	payload, err := message.Encode(f.hub.Build(body))
	if err != nil {
		return
	}
	f.incoming <- framing.Encode(payload)
}

// inject delivers an unsolicited message as if the dongle pushed it.
func (f *fakeDongle) inject(body message.Body) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.push(body)
}

func (f *fakeDongle) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func resultPayload(code message.ResultCode) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(code))
	return payload
}

func (f *fakeDongle) deviceInfoPayload() []byte {
	author := "test"
	url := "https://example.com"

	var buf []byte
	u32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	u16 := func(v uint16) {
		buf = append(buf, byte(v), byte(v>>8))
	}

	u32(ProtocolVersion)
	u32(115200) // max_speed
	u32(1)      // device_type
	buf = append(buf, make([]byte, 16)...)
	u16(uint16(len(author)))
	buf = append(buf, author...)
	u16(uint16(len(url)))
	buf = append(buf, url...)
	u32(1)
	u32(2)
	u32(3)
	u32(uint32(len(f.words)))
	for _, w := range f.words {
		u32(w)
	}
	return buf
}

// bleWord is a capability word advertising the BLE domain ordinal with
// master/slave role bits.
func bleWord() uint32 {
	bits := uint32(1)<<uint(capability.MasterRole) | uint32(1)<<uint(capability.SlaveRole)
	return 1<<24 | bits
}

type recordingConnector struct {
	mu   sync.Mutex
	msgs []*message.Message
}

func (r *recordingConnector) Domain() message.Domain { return message.DomainBLE }
func (r *recordingConnector) OnMessage(msg *message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}
func (r *recordingConnector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestOpenRunsDiscoveryInOrder(t *testing.T) {
	dongle := newFakeDongle([]uint32{bleWord()})
	dev := New("test0", dongle)

	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	assert.Equal(t, StateReady, dev.State())

	info := dev.Info()
	require.NotNil(t, info)
	assert.Equal(t, uint32(115200), info.MaxSpeed)
	assert.Equal(t, "test", info.FirmwareInfo.Author)
	assert.Len(t, info.Domains(), 1)

	cmds := dongle.received()
	require.GreaterOrEqual(t, len(cmds), 3)
	assert.Equal(t, "device_info_query", cmds[0])
	assert.Equal(t, "device_domain_info_query", cmds[1])
	assert.Equal(t, "set_transport_speed", cmds[2])
}

func TestResetAwaitsReady(t *testing.T) {
	dongle := newFakeDongle([]uint32{bleWord()})
	dev := New("test0", dongle)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	require.NoError(t, dev.Reset(context.Background()))
}

func TestUnmatchedMessagesDispatchToConnectors(t *testing.T) {
	dongle := newFakeDongle([]uint32{bleWord()})
	dev := New("test0", dongle)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	rec := &recordingConnector{}
	dev.RegisterConnector(rec)

	dongle.inject(&message.DomainCommand{Domain_: message.DomainBLE, Tag_: "pdu", Payload: []byte{4, 0, 0, 0, 0x02}})

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSendCommandTimesOut(t *testing.T) {
	dongle := newFakeDongle([]uint32{bleWord()})
	dev := New("test0", dongle)
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()

	// A filter nothing will ever match.
	_, err := dev.SendCommand(context.Background(),
		dev.Build(&message.Generic{Tag: "reset"}),
		func(m *message.Message) bool { return false },
		50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCloseFailsOutstandingWaiters(t *testing.T) {
	dongle := newFakeDongle([]uint32{bleWord()})
	dev := New("test0", dongle)
	require.NoError(t, dev.Open(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := dev.SendCommand(context.Background(),
			dev.Build(&message.Generic{Tag: "reset"}),
			func(m *message.Message) bool { return false },
			5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, dev.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotReady)
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock on close")
	}
}
