package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/logger"
)

type fakeTap struct {
	sinks []connector.PacketSink
}

func (f *fakeTap) AttachSink(s connector.PacketSink) { f.sinks = append(f.sinks, s) }
func (f *fakeTap) DetachSink(s connector.PacketSink) {
	for i, cur := range f.sinks {
		if cur == s {
			f.sinks = append(f.sinks[:i], f.sinks[i+1:]...)
			return
		}
	}
}

type captureConsumer struct {
	mu      sync.Mutex
	packets []Packet
	closed  bool
}

func (c *captureConsumer) Consume(pkt Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, pkt)
	return nil
}

func (c *captureConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureConsumer) snapshot() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Packet(nil), c.packets...)
}

func TestStartRequiresAttach(t *testing.T) {
	m := New(logger.Global(), &captureConsumer{})
	assert.ErrorIs(t, m.Start(), ErrNotAttached)
}

func TestPacketsFlowAfterStart(t *testing.T) {
	consumer := &captureConsumer{}
	tap := &fakeTap{}
	m := New(logger.Global(), consumer)

	m.Attach(tap)
	require.Len(t, tap.sinks, 1)
	require.NoError(t, m.Start())

	m.ProcessPacket([]byte{0x01, 0x02}, 1_700_000_000_000_000)
	m.ProcessPacket([]byte{0x03}, 0)

	require.NoError(t, m.Close())
	assert.Empty(t, tap.sinks)
	assert.True(t, consumer.closed)

	got := consumer.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, []byte{0x01, 0x02}, got[0].Data)
	assert.Equal(t, time.UnixMicro(1_700_000_000_000_000), got[0].Timestamp)
	assert.Equal(t, []byte{0x03}, got[1].Data)
}
