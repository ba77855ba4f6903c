// Package host orchestrates a configured set of dongles: it opens each
// device over its transport, wires the configured pipes and monitors, and
// exposes the aggregate status the API surface and CLI report. It plays
// the role the engine plays in a gateway process: configuration in, a
// running set of managed components out.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/whad-go/whad/pkg/bridge"
	"github.com/whad-go/whad/pkg/config"
	"github.com/whad-go/whad/pkg/connector"
	"github.com/whad-go/whad/pkg/device"
	"github.com/whad-go/whad/pkg/logger"
	"github.com/whad-go/whad/pkg/message"
	"github.com/whad-go/whad/pkg/metrics"
	"github.com/whad-go/whad/pkg/monitor"
	"github.com/whad-go/whad/pkg/monitor/pcap"
	"github.com/whad-go/whad/pkg/persistence/bondstore"
	"github.com/whad-go/whad/pkg/transport"
	"github.com/whad-go/whad/pkg/transport/serial"
	"github.com/whad-go/whad/pkg/transport/unixsocket"
)

// pipeState pairs a running bridge with the connectors it intercepts, so
// StopPipe can unhook them.
type pipeState struct {
	cfg    config.PipeConfig
	bridge *bridge.Bridge
	input  *connector.Base
	output *connector.Base
}

// Host owns every long-lived component built from a Config.
type Host struct {
	mu sync.Mutex

	log *logger.Logger
	cfg *config.Config

	devices  map[string]*device.Device
	pipes    map[string]*pipeState
	monitors map[string]*monitor.Monitor
	bonds    *bondstore.Store

	started bool
}

// New builds a Host from cfg. Nothing is opened until Start.
func New(log *logger.Logger, cfg *config.Config) *Host {
	return &Host{
		log:      log.WithComponent("host"),
		cfg:      cfg,
		devices:  make(map[string]*device.Device),
		pipes:    make(map[string]*pipeState),
		monitors: make(map[string]*monitor.Monitor),
	}
}

// Start opens every configured device, then wires pipes and monitors.
// Failure to open one device aborts the whole start; partially opened
// devices are closed again.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	if h.cfg.Bonds.Enabled {
		store, err := bondstore.Open(h.cfg.Bonds.Path)
		if err != nil {
			return fmt.Errorf("host: open bond store: %w", err)
		}
		h.bonds = store
	}

	for _, dc := range h.cfg.Devices {
		dev, err := h.openDevice(ctx, dc)
		if err != nil {
			h.Stop()
			return err
		}
		h.mu.Lock()
		h.devices[dc.Name] = dev
		h.mu.Unlock()
		h.log.Info("device ready", "name", dc.Name, "transport", dc.Transport, "address", dc.Address)
	}

	h.mu.Lock()
	metrics.SetConnectedDevices(len(h.devices))
	h.mu.Unlock()

	for _, pc := range h.cfg.Pipes {
		if err := h.StartPipe(pc); err != nil {
			h.Stop()
			return err
		}
	}

	for _, mc := range h.cfg.Monitors {
		if err := h.startMonitor(mc); err != nil {
			h.Stop()
			return err
		}
	}

	return nil
}

func (h *Host) openDevice(ctx context.Context, dc config.DeviceConfig) (*device.Device, error) {
	tc := transport.Config{Type: dc.Transport, Address: dc.Address}
	if dc.BaudRate > 0 {
		tc.Options = map[string]interface{}{"baudrate": dc.BaudRate}
	}

	var tr transport.Transport
	var err error
	switch dc.Transport {
	case "serial":
		tr, err = serial.New(tc)
	case "unixsocket":
		tr, err = unixsocket.New(tc)
	default:
		err = fmt.Errorf("host: unknown transport type %q", dc.Transport)
	}
	if err != nil {
		return nil, err
	}

	dev := device.New(dc.Name, tr)
	if err := dev.Open(ctx); err != nil {
		return nil, fmt.Errorf("host: open device %s: %w", dc.Name, err)
	}
	return dev, nil
}

// StartPipe wires a bridge between two opened devices per its config.
func (h *Host) StartPipe(pc config.PipeConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.pipes[pc.Name]; exists {
		return fmt.Errorf("host: pipe %s already running", pc.Name)
	}
	in, ok := h.devices[pc.Input]
	if !ok {
		return fmt.Errorf("host: pipe %s: unknown input device %s", pc.Name, pc.Input)
	}
	out, ok := h.devices[pc.Output]
	if !ok {
		return fmt.Errorf("host: pipe %s: unknown output device %s", pc.Name, pc.Output)
	}

	domain := message.Domain(pc.Domain)
	inConn, err := connector.NewBase(in, domain, connector.RoleSniffer)
	if err != nil {
		return fmt.Errorf("host: pipe %s input: %w", pc.Name, err)
	}
	outConn, err := connector.NewBase(out, domain, connector.RoleSniffer)
	if err != nil {
		return fmt.Errorf("host: pipe %s output: %w", pc.Name, err)
	}

	var opts []bridge.Option
	if pc.RawPDU {
		opts = append(opts, bridge.WithRawPDU())
	}
	if pc.PendingQueueCap > 0 {
		opts = append(opts, bridge.WithPendingCap(pc.PendingQueueCap))
	}

	h.pipes[pc.Name] = &pipeState{
		cfg:    pc,
		bridge: bridge.New(h.log, inConn, outConn, opts...),
		input:  inConn,
		output: outConn,
	}
	h.log.Info("pipe started", "name", pc.Name, "input", pc.Input, "output", pc.Output, "domain", pc.Domain)
	return nil
}

// StopPipe unhooks a running bridge.
func (h *Host) StopPipe(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ps, ok := h.pipes[name]
	if !ok {
		return fmt.Errorf("host: no such pipe %s", name)
	}
	ps.input.SetHooks(connector.Hooks{})
	ps.output.SetHooks(connector.Hooks{})
	delete(h.pipes, name)
	h.log.Info("pipe stopped", "name", name)
	return nil
}

func (h *Host) startMonitor(mc config.MonitorConfig) error {
	h.mu.Lock()
	dev, ok := h.devices[mc.Device]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("host: monitor %s: unknown device %s", mc.Name, mc.Device)
	}

	domain := message.DomainBLE
	if mc.Domain != "" {
		domain = message.Domain(mc.Domain)
	}
	conn, err := connector.NewBase(dev, domain, connector.RoleSniffer)
	if err != nil {
		return fmt.Errorf("host: monitor %s: %w", mc.Name, err)
	}

	m, err := pcap.NewMonitor(h.log, mc.Path)
	if err != nil {
		return fmt.Errorf("host: monitor %s: %w", mc.Name, err)
	}
	m.Attach(conn)
	if err := m.Start(); err != nil {
		return fmt.Errorf("host: monitor %s: %w", mc.Name, err)
	}

	h.mu.Lock()
	h.monitors[mc.Name] = m
	h.mu.Unlock()
	h.log.Info("monitor started", "name", mc.Name, "device", mc.Device, "path", mc.Path)
	return nil
}

// Stop tears everything down: monitors first (so their files flush), then
// devices. Safe to call more than once.
func (h *Host) Stop() {
	h.mu.Lock()
	monitors := h.monitors
	devices := h.devices
	bonds := h.bonds
	h.monitors = make(map[string]*monitor.Monitor)
	h.devices = make(map[string]*device.Device)
	h.pipes = make(map[string]*pipeState)
	h.bonds = nil
	h.started = false
	h.mu.Unlock()

	for name, m := range monitors {
		if err := m.Close(); err != nil {
			h.log.Error("monitor close failed", "name", name, "error", err)
		}
	}
	for name, dev := range devices {
		if err := dev.Close(); err != nil {
			h.log.Error("device close failed", "name", name, "error", err)
		}
	}
	if bonds != nil {
		if err := bonds.Close(); err != nil {
			h.log.Error("bond store close failed", "error", err)
		}
	}
	metrics.SetConnectedDevices(0)
}

// AttachPacketSink taps sink into every running pipe's connectors, used to
// feed the live WebSocket stream alongside the bridge's own forwarding.
func (h *Host) AttachPacketSink(sink connector.PacketSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ps := range h.pipes {
		ps.input.AttachSink(sink)
		ps.output.AttachSink(sink)
	}
}

// Device returns an opened device by name.
func (h *Host) Device(name string) (*device.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, ok := h.devices[name]
	if !ok {
		return nil, fmt.Errorf("host: no such device %s", name)
	}
	return dev, nil
}

// Bonds returns the bond store, or nil when persistence is disabled.
func (h *Host) Bonds() *bondstore.Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bonds
}

// DeviceStatus is one device's externally visible state.
type DeviceStatus struct {
	Name    string   `json:"name"`
	State   string   `json:"state"`
	Domains []string `json:"domains,omitempty"`
}

// PipeStatus is one bridge's externally visible state.
type PipeStatus struct {
	Name          string `json:"name"`
	Input         string `json:"input"`
	Output        string `json:"output"`
	Domain        string `json:"domain"`
	InConnected   bool   `json:"in_connected"`
	OutConnected  bool   `json:"out_connected"`
	InHandle      uint32 `json:"in_handle"`
	OutHandle     uint32 `json:"out_handle"`
	PendingInput  int    `json:"pending_input"`
	PendingOutput int    `json:"pending_output"`
}

// Status is the aggregate the API and CLI report.
type Status struct {
	Devices  []DeviceStatus `json:"devices"`
	Pipes    []PipeStatus   `json:"pipes"`
	Monitors []string       `json:"monitors"`
}

// Status snapshots the host's current state.
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	var st Status
	for name, dev := range h.devices {
		ds := DeviceStatus{Name: name, State: dev.State().String()}
		if info := dev.Info(); info != nil {
			for _, d := range info.Domains() {
				ds.Domains = append(ds.Domains, fmt.Sprintf("%#08x", uint32(d)))
			}
		}
		st.Devices = append(st.Devices, ds)
	}
	for name, ps := range h.pipes {
		inHandle, inUp := ps.bridge.InHandle()
		outHandle, outUp := ps.bridge.OutHandle()
		st.Pipes = append(st.Pipes, PipeStatus{
			Name:          name,
			Input:         ps.cfg.Input,
			Output:        ps.cfg.Output,
			Domain:        ps.cfg.Domain,
			InConnected:   inUp,
			OutConnected:  outUp,
			InHandle:      inHandle,
			OutHandle:     outHandle,
			PendingInput:  ps.bridge.PendingCount(bridge.SideInput),
			PendingOutput: ps.bridge.PendingCount(bridge.SideOutput),
		})
	}
	for name := range h.monitors {
		st.Monitors = append(st.Monitors, name)
	}
	return st
}

// PipeConfigs returns the configured pipes, for the API's start endpoint.
func (h *Host) PipeConfigs() []config.PipeConfig {
	return h.cfg.Pipes
}
