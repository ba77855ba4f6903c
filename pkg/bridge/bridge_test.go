package bridge

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whad-go/whad/pkg/ble"
	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/logger"
	"github.com/whad-go/whad/pkg/message"
)

// fakeConnector records installed hooks and sent commands.
type fakeConnector struct {
	mu     sync.Mutex
	hooks  connector.Hooks
	raw    bool
	sent   []*message.DomainCommand
}

func (f *fakeConnector) SetHooks(h connector.Hooks) { f.hooks = h }
func (f *fakeConnector) SupportsRawPDU() bool       { return f.raw }
func (f *fakeConnector) Send(body message.Body) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body.(*message.DomainCommand))
	return nil
}

func (f *fakeConnector) sentCommands() []*message.DomainCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*message.DomainCommand(nil), f.sent...)
}

func (f *fakeConnector) deliver(n *ble.Notification) {
	f.hooks.OnRawMessage(n)
}

func cmdHandle(t *testing.T, cmd *message.DomainCommand) uint32 {
	t.Helper()
	require.GreaterOrEqual(t, len(cmd.Payload), 4)
	return binary.LittleEndian.Uint32(cmd.Payload[:4])
}

var testAddr = [6]byte{0xb1, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6}

func TestForwardQueuesUntilFarSideConnects(t *testing.T) {
	input := &fakeConnector{}
	output := &fakeConnector{}
	b := New(logger.Global(), input, output)

	// Input side comes up with handle 3; output side has no connection.
	input.deliver(ble.NewConnected(3, testAddr, 0, testAddr, 0, 0x8e89bed6))
	input.deliver(ble.NewDataPDU(3, []byte{0x02, 0x07, 0x00, 0x04, 0x00, 0x0a, 0x01, 0x00}))

	assert.Empty(t, output.sentCommands())
	assert.Equal(t, 1, b.PendingCount(SideOutput))

	// Output connects with handle 7: the buffered packet goes out with
	// the rewritten handle.
	output.deliver(ble.NewConnected(7, testAddr, 0, testAddr, 0, 0x50515253))

	sent := output.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, "send_pdu", sent[0].Tag_)
	assert.Equal(t, uint32(7), cmdHandle(t, sent[0]))
	assert.Equal(t, 0, b.PendingCount(SideOutput))
}

func TestForwardRewritesHandleWhenConnected(t *testing.T) {
	input := &fakeConnector{}
	output := &fakeConnector{}
	New(logger.Global(), input, output)

	input.deliver(ble.NewConnected(3, testAddr, 0, testAddr, 0, 0x8e89bed6))
	output.deliver(ble.NewConnected(7, testAddr, 0, testAddr, 0, 0x50515253))

	input.deliver(ble.NewDataPDU(3, []byte{0x02, 0x03, 0x00, 0x04, 0x00, 0x0a}))

	sent := output.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(7), cmdHandle(t, sent[0]))

	// Inbound direction rewrites with the input side's handle.
	output.deliver(ble.NewDataPDU(7, []byte{0x02, 0x03, 0x00, 0x04, 0x00, 0x0b}))

	back := input.sentCommands()
	require.Len(t, back, 1)
	assert.Equal(t, uint32(3), cmdHandle(t, back[0]))
}

func TestDisconnectedSideQueuesAndReplaysInOrder(t *testing.T) {
	input := &fakeConnector{}
	output := &fakeConnector{}
	b := New(logger.Global(), input, output)

	input.deliver(ble.NewConnected(3, testAddr, 0, testAddr, 0, 0x8e89bed6))
	output.deliver(ble.NewConnected(7, testAddr, 0, testAddr, 0, 0x50515253))
	output.deliver(ble.NewDisconnected(7, 0x13))

	input.deliver(ble.NewDataPDU(3, []byte{0x01}))
	input.deliver(ble.NewDataPDU(3, []byte{0x02}))
	input.deliver(ble.NewDataPDU(3, []byte{0x03}))
	assert.Equal(t, 3, b.PendingCount(SideOutput))
	assert.Empty(t, output.sentCommands())

	output.deliver(ble.NewConnected(9, testAddr, 0, testAddr, 0, 0x60616263))

	sent := output.sentCommands()
	require.Len(t, sent, 3)
	for i, want := range []byte{0x01, 0x02, 0x03} {
		assert.Equal(t, uint32(9), cmdHandle(t, sent[i]))
		assert.Equal(t, want, sent[i].Payload[len(sent[i].Payload)-1])
	}
}

func TestPendingQueueDropsOldestAboveCap(t *testing.T) {
	input := &fakeConnector{}
	output := &fakeConnector{}
	b := New(logger.Global(), input, output, WithPendingCap(2))

	input.deliver(ble.NewConnected(3, testAddr, 0, testAddr, 0, 0x8e89bed6))
	input.deliver(ble.NewDataPDU(3, []byte{0x01}))
	input.deliver(ble.NewDataPDU(3, []byte{0x02}))
	input.deliver(ble.NewDataPDU(3, []byte{0x03}))
	assert.Equal(t, 2, b.PendingCount(SideOutput))

	output.deliver(ble.NewConnected(7, testAddr, 0, testAddr, 0, 0x50515253))

	sent := output.sentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, byte(0x02), sent[0].Payload[len(sent[0].Payload)-1])
	assert.Equal(t, byte(0x03), sent[1].Payload[len(sent[1].Payload)-1])
}

func TestRawModeSynthesizesAccessAddressAndCRC(t *testing.T) {
	input := &fakeConnector{}
	output := &fakeConnector{raw: true}
	New(logger.Global(), input, output)

	input.deliver(ble.NewConnected(3, testAddr, 0, testAddr, 0, 0x8e89bed6))
	output.deliver(ble.NewConnected(7, testAddr, 0, testAddr, 0, 0x50515253))
	input.deliver(ble.NewDataPDU(3, []byte{0x02, 0x01, 0x00}))

	sent := output.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, "send_raw_pdu", sent[0].Tag_)
	assert.Equal(t, uint32(7), cmdHandle(t, sent[0]))
	assert.Equal(t, DefaultAccessAddress, binary.LittleEndian.Uint32(sent[0].Payload[4:8]))
	assert.Equal(t, []byte{0, 0, 0}, sent[0].Payload[9:12])
}
