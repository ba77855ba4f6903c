// Package pcap emits a connector's packet stream to a PCAP file. Three
// targets are handled: a new file (header written, packets appended), an
// existing capture (packets appended after the existing ones, with the
// file's first timestamp as the time reference), and a named pipe (header
// written, every packet flushed immediately, no seeking).
package pcap

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/whad-go/whad/pkg/logger"
	"github.com/whad-go/whad/pkg/monitor"
)

const snapLen = 65535

// linkTypeBluetoothLeLl is DLT_BLUETOOTH_LE_LL (251), not exported by
// github.com/google/gopacket/layers in this module version.
const linkTypeBluetoothLeLl layers.LinkType = 251

// Writer is a monitor.Consumer that appends packets to a PCAP target.
type Writer struct {
	log  *logger.Logger
	f    *os.File
	w    *pcapgo.Writer
	pipe bool

	// anchor is the wall-clock reference the first emitted packet maps
	// to; firstTS is that packet's own capture timestamp. Subsequent
	// packets carry anchor + (ts - firstTS).
	anchor  time.Time
	firstTS time.Time
	started bool
}

// New opens path for packet emission, handling the new-file, append and
// named-pipe cases.
func New(log *logger.Logger, path string) (*Writer, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.Mode()&os.ModeNamedPipe != 0:
		return newPipe(log, path)
	case err == nil && info.Size() > 0:
		return newAppend(log, path)
	default:
		return newFile(log, path)
	}
}

// NewMonitor wraps a Writer for path into a ready-to-attach Monitor.
func NewMonitor(log *logger.Logger, path string) (*monitor.Monitor, error) {
	w, err := New(log, path)
	if err != nil {
		return nil, err
	}
	return monitor.New(log, w), nil
}

func newFile(log *logger.Logger, path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("pcap: create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, linkTypeBluetoothLeLl); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcap: write header: %w", err)
	}
	return &Writer{log: log, f: f, w: w, anchor: time.Now()}, nil
}

func newAppend(log *logger.Logger, path string) (*Writer, error) {
	rf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pcap: open %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(rf)
	if err != nil {
		rf.Close()
		return nil, fmt.Errorf("pcap: read header of %s: %w", path, err)
	}
	anchor := time.Now()
	if _, ci, err := r.ReadPacketData(); err == nil {
		anchor = ci.Timestamp
	}
	rf.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("pcap: append %s: %w", path, err)
	}
	// The file already has its header; packets only.
	return &Writer{log: log, f: f, w: pcapgo.NewWriter(f), anchor: anchor}, nil
}

func newPipe(log *logger.Logger, path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("pcap: open pipe %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, linkTypeBluetoothLeLl); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcap: write header: %w", err)
	}
	return &Writer{log: log, f: f, w: w, pipe: true, anchor: time.Now()}, nil
}

// Consume implements monitor.Consumer, normalising timestamps so the
// first emitted packet lands on the anchor and later ones keep their
// relative offsets.
func (p *Writer) Consume(pkt monitor.Packet) error {
	if !p.started {
		p.started = true
		p.firstTS = pkt.Timestamp
	}
	ts := p.anchor.Add(pkt.Timestamp.Sub(p.firstTS))

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(pkt.Data),
		Length:        len(pkt.Data),
	}
	if err := p.w.WritePacket(ci, pkt.Data); err != nil {
		return fmt.Errorf("pcap: write packet: %w", err)
	}
	if p.pipe {
		_ = p.f.Sync()
	}
	return nil
}

// Close closes the underlying target.
func (p *Writer) Close() error {
	return p.f.Close()
}
