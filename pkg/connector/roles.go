package connector

import (
	"context"
	"time"

	"github.com/whad-go/whad/pkg/device"
	"github.com/whad-go/whad/pkg/message"
)

// Central is the BLE/802.15.4-style initiator role: scans and connects out.
type Central struct {
	*Base
	OnScanResult func(addr string, addrType byte, advData, scanRsp []byte)
}

// NewCentral wraps base as a Central-role connector.
func NewCentral(base *Base) *Central { return &Central{Base: base} }

// StartScan issues the role's single start command for passive or active
// scanning.
func (c *Central) StartScan(ctx context.Context, active bool) error {
	cmd := buildRoleStart(c.domain, "start_scan", boolPayload(active))
	_, err := c.SendCommand(ctx, c.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// Connect issues the role's connect command by address.
func (c *Central) Connect(ctx context.Context, addr string, addrType byte) error {
	cmd := buildRoleStart(c.domain, "connect", addrPayload(addr, addrType))
	_, err := c.SendCommand(ctx, c.dev.Build(cmd), matchResult(), 10*time.Second)
	return err
}

// Disconnect issues the role's disconnect command for a connection handle.
func (c *Central) Disconnect(ctx context.Context, connHandle uint32) error {
	cmd := buildRoleStart(c.domain, "disconnect", u32Payload(connHandle))
	_, err := c.SendCommand(ctx, c.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// Peripheral is the BLE advertiser/responder role.
type Peripheral struct {
	*Base
}

// NewPeripheral wraps base as a Peripheral-role connector.
func NewPeripheral(base *Base) *Peripheral { return &Peripheral{Base: base} }

// SetAdvertisingData sets the advertising payload.
func (p *Peripheral) SetAdvertisingData(ctx context.Context, advData []byte) error {
	cmd := buildRoleStart(p.domain, "set_adv_data", advData)
	_, err := p.SendCommand(ctx, p.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// SetScanResponse sets the scan-response payload.
func (p *Peripheral) SetScanResponse(ctx context.Context, scanRsp []byte) error {
	cmd := buildRoleStart(p.domain, "set_scan_rsp", scanRsp)
	_, err := p.SendCommand(ctx, p.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// EnableAdvertising starts advertising.
func (p *Peripheral) EnableAdvertising(ctx context.Context) error {
	cmd := buildRoleStart(p.domain, "start_adv", nil)
	_, err := p.SendCommand(ctx, p.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// EnablePairing enables responding to pairing requests.
func (p *Peripheral) EnablePairing(ctx context.Context) error {
	cmd := buildRoleStart(p.domain, "enable_pairing", nil)
	_, err := p.SendCommand(ctx, p.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// Sniffer passively observes traffic without participating in it.
type Sniffer struct {
	*Base
}

// NewSniffer wraps base as a Sniffer-role connector.
func NewSniffer(base *Base) *Sniffer { return &Sniffer{Base: base} }

// Start begins sniffing on the given channel.
func (s *Sniffer) Start(ctx context.Context, channel uint32) error {
	cmd := buildRoleStart(s.domain, "sniff", u32Payload(channel))
	_, err := s.SendCommand(ctx, s.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// Injector injects crafted PDUs into an ongoing exchange.
type Injector struct {
	*Base
}

// NewInjector wraps base as an Injector-role connector.
func NewInjector(base *Base) *Injector { return &Injector{Base: base} }

// Inject sends a single raw PDU.
func (i *Injector) Inject(ctx context.Context, pdu []byte, connHandle uint32) error {
	cmd := buildRoleStart(i.domain, "inject", pdu)
	_, err := i.SendCommand(ctx, i.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// Jammer emits interference on a channel.
type Jammer struct {
	*Base
}

// NewJammer wraps base as a Jammer-role connector.
func NewJammer(base *Base) *Jammer { return &Jammer{Base: base} }

// Start begins jamming the given channel.
func (j *Jammer) Start(ctx context.Context, channel uint32) error {
	cmd := buildRoleStart(j.domain, "jam", u32Payload(channel))
	_, err := j.SendCommand(ctx, j.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// Coordinator is the 802.15.4/Zigbee PAN-forming role.
type Coordinator struct {
	*Base
}

// NewCoordinator wraps base as a Coordinator-role connector.
func NewCoordinator(base *Base) *Coordinator { return &Coordinator{Base: base} }

// FormNetwork starts a PAN on the given channel with the given PAN ID.
func (c *Coordinator) FormNetwork(ctx context.Context, channel uint32, panID uint16) error {
	cmd := buildRoleStart(c.domain, "form_network", u32Payload(channel|uint32(panID)<<16))
	_, err := c.SendCommand(ctx, c.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// EndDevice is the 802.15.4/Zigbee joining role.
type EndDevice struct {
	*Base
}

// NewEndDevice wraps base as an EndDevice-role connector.
func NewEndDevice(base *Base) *EndDevice { return &EndDevice{Base: base} }

// Associate joins the PAN identified by panID on channel.
func (e *EndDevice) Associate(ctx context.Context, channel uint32, panID uint16) error {
	cmd := buildRoleStart(e.domain, "associate", u32Payload(channel|uint32(panID)<<16))
	_, err := e.SendCommand(ctx, e.dev.Build(cmd), matchResult(), 10*time.Second)
	return err
}

// PTX is the ESB/Unifying primary-transmitter role.
type PTX struct {
	*Base
}

// NewPTX wraps base as a PTX-role connector.
func NewPTX(base *Base) *PTX { return &PTX{Base: base} }

// Send transmits a payload to the given ESB address.
func (p *PTX) Send(ctx context.Context, addr []byte, payload []byte) error {
	cmd := buildRoleStart(p.domain, "ptx_send", append(append([]byte{}, addr...), payload...))
	_, err := p.SendCommand(ctx, p.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

// PRX is the ESB/Unifying primary-receiver role.
type PRX struct {
	*Base
}

// NewPRX wraps base as a PRX-role connector.
func NewPRX(base *Base) *PRX { return &PRX{Base: base} }

// Start begins listening as a PRX on the given ESB address.
func (p *PRX) Start(ctx context.Context, addr []byte) error {
	cmd := buildRoleStart(p.domain, "prx_start", addr)
	_, err := p.SendCommand(ctx, p.dev.Build(cmd), matchResult(), 5*time.Second)
	return err
}

func matchResult() device.MatchFunc {
	return func(m *message.Message) bool {
		if m.Domain != message.DomainGeneric {
			return false
		}
		g, ok := m.Body.(*message.Generic)
		return ok && g.Tag == "result"
	}
}

func buildRoleStart(domain message.Domain, tag string, payload []byte) *message.DomainCommand {
	return &message.DomainCommand{Domain_: domain, Tag_: tag, Payload: payload}
}

func boolPayload(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func u32Payload(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func addrPayload(addr string, addrType byte) []byte {
	return append([]byte{addrType}, []byte(addr)...)
}
