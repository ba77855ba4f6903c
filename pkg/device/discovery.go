package device

import (
	"encoding/binary"
	"fmt"

	"github.com/whad-go/whad/pkg/capability"
	"github.com/whad-go/whad/pkg/message"
)

// DeviceInfoResp's wire layout (the payload of a "device_info_resp"
// Generic message): a flat, length-prefixed encoding of the device's
// firmware metadata and capability words.
//
//	u32 proto_version
//	u32 max_speed
//	u32 device_type
//	16B device_id
//	u16 fw_author_len, fw_author
//	u16 fw_url_len, fw_url
//	u32 fw_version_major, fw_version_minor, fw_version_rev
//	u32 capability_count, [u32 capability]*count
func parseDeviceInfoResp(msg *message.Message) (*capability.Info, error) {
	g, ok := msg.Body.(*message.Generic)
	if !ok {
		return nil, fmt.Errorf("device: device_info_resp has wrong body type")
	}
	data := g.Payload
	need := func(n int) error {
		if len(data) < n {
			return message.ErrTruncated
		}
		return nil
	}

	if err := need(4 + 4 + 4 + 16); err != nil {
		return nil, err
	}
	protoVersion := binary.LittleEndian.Uint32(data)
	data = data[4:]
	maxSpeed := binary.LittleEndian.Uint32(data)
	data = data[4:]
	deviceType := binary.LittleEndian.Uint32(data)
	data = data[4:]
	var deviceID [16]byte
	copy(deviceID[:], data[:16])
	data = data[16:]

	if err := need(2); err != nil {
		return nil, err
	}
	authorLen := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if err := need(authorLen); err != nil {
		return nil, err
	}
	author := string(data[:authorLen])
	data = data[authorLen:]

	if err := need(2); err != nil {
		return nil, err
	}
	urlLen := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if err := need(urlLen); err != nil {
		return nil, err
	}
	url := string(data[:urlLen])
	data = data[urlLen:]

	if err := need(12); err != nil {
		return nil, err
	}
	verMajor := binary.LittleEndian.Uint32(data)
	data = data[4:]
	verMinor := binary.LittleEndian.Uint32(data)
	data = data[4:]
	verRev := binary.LittleEndian.Uint32(data)
	data = data[4:]

	if err := need(4); err != nil {
		return nil, err
	}
	count := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if err := need(count * 4); err != nil {
		return nil, err
	}
	words := make([]uint32, count)
	for i := 0; i < count; i++ {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}

	fw := capability.FirmwareInfo{
		Author:       author,
		URL:          url,
		VersionMajor: verMajor,
		VersionMinor: verMinor,
		VersionRev:   verRev,
	}

	return capability.NewInfo(protoVersion, maxSpeed, fw, deviceType, deviceID, words), nil
}

// parseDeviceDomainInfoResp extracts the supported-command bitmask from a
// "device_domain_info_resp" Generic message (a bare u32).
func parseDeviceDomainInfoResp(msg *message.Message) (uint32, error) {
	g, ok := msg.Body.(*message.Generic)
	if !ok {
		return 0, fmt.Errorf("device: device_domain_info_resp has wrong body type")
	}
	if len(g.Payload) < 4 {
		return 0, message.ErrTruncated
	}
	return binary.LittleEndian.Uint32(g.Payload), nil
}
