// Package profile loads a peripheral-emulation profile from JSON: the
// device identity (BD address, address type, advertising and scan-response
// data) plus a services/characteristics tree that is compiled into a GATT
// attribute database for a server to expose.
package profile

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/whad-go/whad/pkg/ble"
	"github.com/whad-go/whad/pkg/ble/att"
	"github.com/whad-go/whad/pkg/ble/gatt"
)

// DevInfo is the device identity section of a profile.
type DevInfo struct {
	BDAddr   string `json:"bd_addr"`
	AddrType string `json:"addr_type"`
	AdvData  string `json:"adv_data"`
	ScanRsp  string `json:"scan_rsp"`
}

// Descriptor is one descriptor under a characteristic.
type Descriptor struct {
	UUID  string `json:"uuid"`
	Value string `json:"value,omitempty"`
}

// Characteristic is one characteristic with its properties and initial
// value.
type Characteristic struct {
	UUID        string       `json:"uuid"`
	Properties  []string     `json:"properties"`
	Security    []string     `json:"security,omitempty"`
	Value       string       `json:"value,omitempty"`
	Descriptors []Descriptor `json:"descriptors,omitempty"`
}

// Service is one primary or secondary service.
type Service struct {
	UUID            string           `json:"uuid"`
	Secondary       bool             `json:"secondary,omitempty"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Profile is the full document.
type Profile struct {
	DevInfo  DevInfo   `json:"devinfo"`
	Services []Service `json:"services"`
}

// Load reads and parses a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a profile document from JSON.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parse: %w", err)
	}
	if p.DevInfo.BDAddr == "" {
		return nil, fmt.Errorf("profile: devinfo.bd_addr is required")
	}
	if _, err := p.Address(); err != nil {
		return nil, err
	}
	if _, err := p.AddressType(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Address decodes devinfo.bd_addr into the wire byte order (LSB first).
func (p *Profile) Address() ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(p.DevInfo.BDAddr, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("profile: invalid bd_addr %q", p.DevInfo.BDAddr)
	}
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("profile: invalid bd_addr %q: %w", p.DevInfo.BDAddr, err)
		}
		addr[5-i] = byte(v)
	}
	return addr, nil
}

// AddressType decodes devinfo.addr_type.
func (p *Profile) AddressType() (ble.AddrType, error) {
	switch strings.ToLower(p.DevInfo.AddrType) {
	case "", "public":
		return ble.AddrPublic, nil
	case "random":
		return ble.AddrRandom, nil
	default:
		return 0, fmt.Errorf("profile: invalid addr_type %q", p.DevInfo.AddrType)
	}
}

// AdvData decodes devinfo.adv_data from hex.
func (p *Profile) AdvData() ([]byte, error) {
	return hexField("adv_data", p.DevInfo.AdvData)
}

// ScanRsp decodes devinfo.scan_rsp from hex.
func (p *Profile) ScanRsp() ([]byte, error) {
	return hexField("scan_rsp", p.DevInfo.ScanRsp)
}

func hexField(name, v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("profile: invalid %s hex: %w", name, err)
	}
	return b, nil
}

// BuildDB compiles the services tree into an attribute database, allocating
// handles in declaration order so the grouping invariant holds.
func (p *Profile) BuildDB() (*gatt.DB, error) {
	db := gatt.NewDB()
	for _, svc := range p.Services {
		svcUUID, err := parseUUID(svc.UUID)
		if err != nil {
			return nil, err
		}
		svcHandle := db.AddService(svcUUID, svc.Secondary)

		for _, ch := range svc.Characteristics {
			chUUID, err := parseUUID(ch.UUID)
			if err != nil {
				return nil, err
			}
			perms, err := parsePermissions(ch.Properties, ch.Security)
			if err != nil {
				return nil, err
			}
			value, err := hexField("value", ch.Value)
			if err != nil {
				return nil, err
			}
			db.AddCharacteristic(chUUID, perms, value)

			if perms.Notify || perms.Indicate {
				db.AddDescriptor(att.ShortUUID(gatt.UUIDCCCD), gatt.Permissions{Read: true, Write: true}, []byte{0x00, 0x00})
			}
			for _, desc := range ch.Descriptors {
				descUUID, err := parseUUID(desc.UUID)
				if err != nil {
					return nil, err
				}
				if !descUUID.Is128 && descUUID.Short == gatt.UUIDCCCD {
					continue // already added above
				}
				descValue, err := hexField("descriptor value", desc.Value)
				if err != nil {
					return nil, err
				}
				db.AddDescriptor(descUUID, gatt.Permissions{Read: true}, descValue)
			}
		}

		if err := db.CloseGroup(svcHandle); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// parseUUID accepts a 4-hex-digit SIG UUID ("2a00") or a full 128-bit UUID
// string.
func parseUUID(s string) (att.AttrUUID, error) {
	cleaned := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(cleaned) == 4 {
		v, err := strconv.ParseUint(cleaned, 16, 16)
		if err != nil {
			return att.AttrUUID{}, fmt.Errorf("profile: invalid uuid %q: %w", s, err)
		}
		return att.ShortUUID(uint16(v)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return att.AttrUUID{}, fmt.Errorf("profile: invalid uuid %q: %w", s, err)
	}
	return att.AttrUUID{Long: u, Is128: true}, nil
}

func parsePermissions(properties, security []string) (gatt.Permissions, error) {
	var p gatt.Permissions
	for _, prop := range properties {
		switch strings.ToLower(prop) {
		case "read":
			p.Read = true
		case "write":
			p.Write = true
		case "write_without_response":
			p.WriteWithoutResponse = true
		case "notify":
			p.Notify = true
		case "indicate":
			p.Indicate = true
		default:
			return p, fmt.Errorf("profile: unknown property %q", prop)
		}
	}
	for _, sec := range security {
		switch strings.ToLower(sec) {
		case "encryption", "encrypted":
			p.RequireEncryption = true
		case "none", "":
		default:
			return p, fmt.Errorf("profile: unknown security requirement %q", sec)
		}
	}
	return p, nil
}
