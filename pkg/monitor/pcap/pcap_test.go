package pcap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whad-go/whad/pkg/logger"
	"github.com/whad-go/whad/pkg/monitor"
)

func readAll(t *testing.T, path string) (layers.LinkType, [][]byte, []time.Time) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)

	var packets [][]byte
	var stamps []time.Time
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			break
		}
		packets = append(packets, append([]byte(nil), data...))
		stamps = append(stamps, ci.Timestamp)
	}
	return r.LinkType(), packets, stamps
}

func TestNewFileWritesHeaderAndPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	w, err := New(logger.Global(), path)
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	require.NoError(t, w.Consume(monitor.Packet{Data: []byte{0x02, 0x01}, Timestamp: base}))
	require.NoError(t, w.Consume(monitor.Packet{Data: []byte{0x02, 0x02}, Timestamp: base.Add(250 * time.Millisecond)}))
	require.NoError(t, w.Close())

	link, packets, stamps := readAll(t, path)
	assert.Equal(t, linkTypeBluetoothLeLl, link)
	require.Len(t, packets, 2)
	assert.Equal(t, []byte{0x02, 0x01}, packets[0])

	// Relative spacing survives normalisation.
	assert.Equal(t, 250*time.Millisecond, stamps[1].Sub(stamps[0]))
}

func TestAppendPreservesExistingPacketsAndReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")

	w, err := New(logger.Global(), path)
	require.NoError(t, err)
	first := time.Unix(2000, 0)
	require.NoError(t, w.Consume(monitor.Packet{Data: []byte{0xaa}, Timestamp: first}))
	require.NoError(t, w.Close())

	w2, err := New(logger.Global(), path)
	require.NoError(t, err)
	require.NoError(t, w2.Consume(monitor.Packet{Data: []byte{0xbb}, Timestamp: time.Unix(9000, 0)}))
	require.NoError(t, w2.Consume(monitor.Packet{Data: []byte{0xcc}, Timestamp: time.Unix(9001, 0)}))
	require.NoError(t, w2.Close())

	_, packets, stamps := readAll(t, path)
	require.Len(t, packets, 3)
	assert.Equal(t, []byte{0xaa}, packets[0])
	assert.Equal(t, []byte{0xbb}, packets[1])
	assert.Equal(t, []byte{0xcc}, packets[2])

	// Appended packets are re-anchored on the file's first timestamp.
	assert.Equal(t, stamps[0], stamps[1])
	assert.Equal(t, time.Second, stamps[2].Sub(stamps[1]))
}
