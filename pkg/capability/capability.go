// Package capability decodes the 32-bit capability words a dongle reports in
// its DeviceInfoResp and tracks, per domain, which commands the firmware
// actually implements. The top octet of each capability word is a domain
// tag, the low 24 bits are a capability bitmask within that domain.
package capability

import "fmt"

// Domain is a dongle-reported radio domain, the top octet of a capability
// word masked into place (domain & 0xFF000000).
type Domain uint32

// Capability is a single bit position within a domain's 24-bit bitmask.
type Capability uint

// Capability bits, shared across all domains.
const (
	Scan Capability = iota
	Sniff
	Inject
	Jam
	Hijack
	Hook
	MasterRole
	SlaveRole
	NoRawData
	EndDeviceRole
	CoordinatorRole
	RouterRole
)

func (c Capability) String() string {
	switch c {
	case Scan:
		return "scan"
	case Sniff:
		return "sniff"
	case Inject:
		return "inject"
	case Jam:
		return "jam"
	case Hijack:
		return "hijack"
	case Hook:
		return "hook"
	case MasterRole:
		return "master_role"
	case SlaveRole:
		return "slave_role"
	case NoRawData:
		return "no_raw_data"
	case EndDeviceRole:
		return "end_device_role"
	case CoordinatorRole:
		return "coordinator_role"
	case RouterRole:
		return "router_role"
	default:
		return fmt.Sprintf("capability(%d)", c)
	}
}

const (
	domainMask     uint32 = 0xFF000000
	capabilityMask uint32 = 0x00FFFFFF
)

// SplitWord splits a raw 32-bit capability word into its domain tag and
// capability bitmask, the same masking DeviceInfoResp.capabilities uses.
func SplitWord(word uint32) (domain Domain, bitmask uint32) {
	return Domain(word & domainMask), word & capabilityMask
}

// Info caches a device's firmware metadata and per-domain capability and
// command bitmasks.
type Info struct {
	WhadVersion  uint32
	MaxSpeed     uint32
	FirmwareInfo FirmwareInfo
	DeviceType   uint32
	DeviceID     [16]byte

	domains  map[Domain]uint32 // capability bitmask per domain
	commands map[Domain]uint32 // supported-command bitmask per domain
}

// FirmwareInfo is the author/URL/version triple reported in DeviceInfoResp.
type FirmwareInfo struct {
	Author      string
	URL         string
	VersionMajor uint32
	VersionMinor uint32
	VersionRev   uint32
}

// NewInfo builds an Info from the capability words reported by
// DeviceInfoResp, seeding each domain's command bitmask to zero until a
// DeviceDomainInfoResp arrives for it.
func NewInfo(whadVersion, maxSpeed uint32, fw FirmwareInfo, deviceType uint32, deviceID [16]byte, words []uint32) *Info {
	info := &Info{
		WhadVersion:  whadVersion,
		MaxSpeed:     maxSpeed,
		FirmwareInfo: fw,
		DeviceType:   deviceType,
		DeviceID:     deviceID,
		domains:      make(map[Domain]uint32, len(words)),
		commands:     make(map[Domain]uint32, len(words)),
	}
	for _, w := range words {
		d, bitmask := SplitWord(w)
		info.domains[d] = bitmask
		info.commands[d] = 0
	}
	return info
}

// AddSupportedCommands records the command bitmask returned by a
// DeviceDomainInfoResp for domain. A no-op if the domain was never
// advertised in DeviceInfoResp's capability list.
func (i *Info) AddSupportedCommands(domain Domain, commands uint32) {
	if _, ok := i.domains[domain]; ok {
		i.commands[domain] = commands
	}
}

// HasDomain reports whether the device advertised support for domain.
func (i *Info) HasDomain(domain Domain) bool {
	_, ok := i.domains[domain]
	return ok
}

// HasCapability reports whether domain supports capability.
func (i *Info) HasCapability(domain Domain, cap Capability) bool {
	bits, ok := i.domains[domain]
	if !ok {
		return false
	}
	return bits&(1<<uint(cap)) != 0
}

// DomainCapabilities returns the raw capability bitmask for domain, and
// whether the domain is supported at all.
func (i *Info) DomainCapabilities(domain Domain) (uint32, bool) {
	bits, ok := i.domains[domain]
	return bits, ok
}

// DomainCommands returns the raw supported-command bitmask for domain.
func (i *Info) DomainCommands(domain Domain) (uint32, bool) {
	bits, ok := i.commands[domain]
	return bits, ok
}

// SupportsCommand reports whether command (a bit position in the
// domain-specific command enum) is implemented by the firmware.
func (i *Info) SupportsCommand(domain Domain, command uint) bool {
	bits, ok := i.commands[domain]
	if !ok {
		return false
	}
	return bits&(1<<command) != 0
}

// Domains returns every domain this device advertised.
func (i *Info) Domains() []Domain {
	out := make([]Domain, 0, len(i.domains))
	for d := range i.domains {
		out = append(out, d)
	}
	return out
}
