package message

import (
	"encoding/binary"
	"errors"
)

// ResultCode is the generic outcome tag carried by Generic.Result messages.
type ResultCode uint32

// Result codes from the baseline protocol. UnsupportedDomain is the one
// the device dispatch loop treats as fatal.
const (
	ResultSuccess           ResultCode = 0
	ResultError             ResultCode = 1
	ResultUnsupportedDomain ResultCode = 2
	ResultUnknownCommand    ResultCode = 3
	ResultBusy              ResultCode = 4
	ResultWrongMode         ResultCode = 5
)

// Generic carries DeviceInfoQuery/Resp, DeviceDomainInfoQuery/Resp,
// SetTransportSpeed, Reset/ReadyResp and bare Result acknowledgements:
// the sub-tags used by the device discovery handshake.
type Generic struct {
	Tag     string
	Payload []byte // opaque, sub-tag specific
}

func (g *Generic) BodyDomain() Domain { return DomainGeneric }
func (g *Generic) SubTag() string     { return g.Tag }
func (g *Generic) Marshal() ([]byte, error) {
	return g.Payload, nil
}

func decodeGeneric(tag string) Decoder {
	return func(version uint32, subTag string, data []byte) (Body, error) {
		payload := make([]byte, len(data))
		copy(payload, data)
		return &Generic{Tag: tag, Payload: payload}, nil
	}
}

func init() {
	for _, tag := range []string{
		"device_info_query", "device_info_resp",
		"device_domain_info_query", "device_domain_info_resp",
		"set_transport_speed", "reset", "ready_resp", "result",
	} {
		Global().Register(DomainGeneric, tag, 1, 0, decodeGeneric(tag))
	}
}

// NewDeviceInfoQuery builds the first message of the discovery handshake,
// carrying the proto version this host speaks.
func NewDeviceInfoQuery(protoVersion uint32) *Generic {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, protoVersion)
	return &Generic{Tag: "device_info_query", Payload: payload}
}

// NewDeviceDomainInfoQuery builds the per-domain capability-bitmask query.
func NewDeviceDomainInfoQuery(domain uint32) *Generic {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, domain)
	return &Generic{Tag: "device_domain_info_query", Payload: payload}
}

// NewSetTransportSpeed builds the command issued once discovery completes.
func NewSetTransportSpeed(speed uint32) *Generic {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, speed)
	return &Generic{Tag: "set_transport_speed", Payload: payload}
}

// NewReset builds a Reset command, answered by a ready_resp Generic message.
func NewReset() *Generic {
	return &Generic{Tag: "reset"}
}

// Result decodes a bare Result generic message's code.
func (g *Generic) Result() (ResultCode, error) {
	if g.Tag != "result" {
		return 0, errors.New("message: not a result message")
	}
	if len(g.Payload) < 4 {
		return 0, ErrTruncated
	}
	return ResultCode(binary.LittleEndian.Uint32(g.Payload)), nil
}

// DomainCommand is a role-start style command scoped to a specific domain
// (ble/dot15d4/zigbee/...), used by pkg/connector's role helpers to issue
// each role's start command without every domain package needing its own
// command-wrapper type.
type DomainCommand struct {
	Domain_ Domain
	Tag_    string
	Payload []byte
}

func (c *DomainCommand) BodyDomain() Domain { return c.Domain_ }
func (c *DomainCommand) SubTag() string     { return c.Tag_ }
func (c *DomainCommand) Marshal() ([]byte, error) {
	return c.Payload, nil
}

func init() {
	// Role-start commands are free-form per domain; bind a catch-all
	// decoder per known domain so a Hub can round-trip them for loopback
	// transports and tests without each domain declaring every tag.
	for _, d := range []Domain{DomainBLE, DomainDot15d4, DomainZigbee, DomainMesh, DomainPHY, DomainESB, DomainUnifying} {
		dom := d
		Global().Register(dom, "*", 1, 0, func(version uint32, subTag string, data []byte) (Body, error) {
			payload := make([]byte, len(data))
			copy(payload, data)
			return &DomainCommand{Domain_: dom, Tag_: subTag, Payload: payload}, nil
		})
	}
}
