package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whad-go/whad/pkg/ble"
	"github.com/whad-go/whad/pkg/ble/gatt"
)

const sampleProfile = `{
  "devinfo": {
    "bd_addr": "a4:c1:38:11:22:33",
    "addr_type": "random",
    "adv_data": "020106070941425a3031",
    "scan_rsp": "0509414243"
  },
  "services": [
    {
      "uuid": "1800",
      "characteristics": [
        {"uuid": "2a00", "properties": ["read"], "value": "414243"},
        {"uuid": "2a01", "properties": ["read"], "value": "0000"}
      ]
    },
    {
      "uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
      "characteristics": [
        {"uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": ["notify"]},
        {"uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": ["write", "write_without_response"], "security": ["encryption"]}
      ]
    }
  ]
}`

func TestParseDevInfo(t *testing.T) {
	p, err := Parse([]byte(sampleProfile))
	require.NoError(t, err)

	addr, err := p.Address()
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x33, 0x22, 0x11, 0x38, 0xc1, 0xa4}, addr)

	addrType, err := p.AddressType()
	require.NoError(t, err)
	assert.Equal(t, ble.AddrRandom, addrType)

	adv, err := p.AdvData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x07, 0x09, 0x41, 0x42, 0x5a, 0x30, 0x31}, adv)

	scanRsp, err := p.ScanRsp()
	require.NoError(t, err)
	assert.Len(t, scanRsp, 5)
}

func TestParseRejectsMissingAddress(t *testing.T) {
	_, err := Parse([]byte(`{"devinfo": {"addr_type": "public"}}`))
	assert.Error(t, err)
}

func TestBuildDBHandlesStrictlyIncrease(t *testing.T) {
	p, err := Parse([]byte(sampleProfile))
	require.NoError(t, err)

	db, err := p.BuildDB()
	require.NoError(t, err)

	var last uint16
	for h := uint16(1); h <= 40; h++ {
		attr := db.Get(h)
		if attr == nil {
			continue
		}
		assert.Greater(t, attr.Handle, last)
		last = attr.Handle
	}
	require.NotZero(t, last)

	// First service declaration sits at handle 1 and its group covers the
	// two characteristics that follow.
	first := db.Get(1)
	require.NotNil(t, first)
	assert.Equal(t, uint16(5), first.GroupEnd)
}

func TestBuildDBAddsCCCDForNotify(t *testing.T) {
	p, err := Parse([]byte(sampleProfile))
	require.NoError(t, err)
	db, err := p.BuildDB()
	require.NoError(t, err)

	// Second service: decl(6), notify char decl(7)+value(8), CCCD(9).
	cccd := db.Get(9)
	require.NotNil(t, cccd)
	assert.False(t, cccd.UUID.Is128)
	assert.Equal(t, uint16(gatt.UUIDCCCD), cccd.UUID.Short)
	assert.True(t, cccd.Permissions.Write)

	// Write characteristic carries the encryption requirement.
	val := db.Get(11)
	require.NotNil(t, val)
	assert.True(t, val.Permissions.RequireEncryption)
	assert.True(t, val.Permissions.WriteWithoutResponse)
}
