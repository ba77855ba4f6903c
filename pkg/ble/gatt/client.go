package gatt

import (
	"context"
	"errors"
	"time"

	"github.com/whad-go/whad/pkg/ble/att"
	"github.com/whad-go/whad/pkg/ble/l2cap"
)

// DefaultTimeout bounds a single ATT request issued by the client.
const DefaultTimeout = 5 * time.Second

// ErrConnectionLost is raised for an outstanding operation when the
// connection is torn down mid-flight.
var ErrConnectionLost = errors.New("gatt: connection lost during operation")

// Service is one discovered primary/secondary service grouping.
type Service struct {
	StartHandle uint16
	EndHandle   uint16
	UUID        att.AttrUUID
}

// IncludedService is one discovered Include declaration.
type IncludedService struct {
	Handle        uint16
	StartHandle   uint16
	EndHandle     uint16
	UUID          att.AttrUUID
}

// Characteristic is one discovered characteristic: its declaration handle,
// its value handle, and the properties/UUID carried in the declaration.
type Characteristic struct {
	DeclHandle  uint16
	ValueHandle uint16
	Properties  byte
	UUID        att.AttrUUID
}

// Descriptor is one discovered descriptor attribute.
type Descriptor struct {
	Handle uint16
	UUID   att.AttrUUID
}

// Client discovers and accesses a peer's attribute database:
// Read-By-Group-Type for services, Read-By-Type for
// characteristics/includes, Find-Information for descriptors. Each
// discovery completes when the server returns an empty result or an
// ATTRIBUTE_NOT_FOUND error on a handle range that reaches 0xFFFF.
type Client struct {
	att *att.Layer
	l2  *l2cap.Channel
}

// NewClient builds a Client issuing requests over layer, using l2 to learn
// the negotiated MTU for read-blob/long-write chaining.
func NewClient(layer *att.Layer, l2 *l2cap.Channel) *Client {
	return &Client{att: layer, l2: l2}
}

// ExchangeMTU sends the local MTU and records the server's reply as the
// remote MTU, the client-initiated half of the MTU exchange.
func (c *Client) ExchangeMTU(ctx context.Context, localMTU uint16) (uint16, error) {
	resp, err := c.att.SendRequest(ctx, att.ExchangeMTUReq(localMTU), DefaultTimeout)
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, errShort
	}
	remote := uint16(resp[0]) | uint16(resp[1])<<8
	c.l2.SetRemoteMTU(remote)
	if remote > localMTU {
		remote = localMTU
	}
	return remote, nil
}

// DiscoverPrimaryServices walks the handle space with Read-By-Group-Type
// requests until the server reports ATTRIBUTE_NOT_FOUND at 0xFFFF.
func (c *Client) DiscoverPrimaryServices(ctx context.Context) ([]Service, error) {
	var out []Service
	start := uint16(1)
	for start <= MaxHandle {
		resp, err := c.att.SendRequest(ctx, att.ReadByGroupTypeReq(start, MaxHandle, att.ShortUUID(UUIDPrimaryService)), DefaultTimeout)
		if err != nil {
			if attErr, ok := asATTError(err); ok && attErr.Reason == att.ErrAttributeNotFound {
				break
			}
			return out, err
		}
		groups, last, perr := parseGroupList(resp)
		if perr != nil {
			return out, perr
		}
		for _, g := range groups {
			out = append(out, Service{StartHandle: g.Start, EndHandle: g.End, UUID: parseGroupUUID(g.Value)})
		}
		if last == MaxHandle {
			break
		}
		start = last + 1
	}
	return out, nil
}

// DiscoverIncludedServices issues Read-By-Type(Include Declaration) across
// [start, end], typically a single discovered service's range.
func (c *Client) DiscoverIncludedServices(ctx context.Context, start, end uint16) ([]IncludedService, error) {
	var out []IncludedService
	for start <= end {
		resp, err := c.att.SendRequest(ctx, att.ReadByTypeReq(start, end, att.ShortUUID(UUIDIncludeDecl)), DefaultTimeout)
		if err != nil {
			if attErr, ok := asATTError(err); ok && attErr.Reason == att.ErrAttributeNotFound {
				break
			}
			return out, err
		}
		entries, last, perr := parseTypeList(resp)
		if perr != nil {
			return out, perr
		}
		for _, e := range entries {
			if len(e.Value) < 4 {
				continue
			}
			inc := IncludedService{
				Handle:      e.Handle,
				StartHandle: uint16(e.Value[0]) | uint16(e.Value[1])<<8,
				EndHandle:   uint16(e.Value[2]) | uint16(e.Value[3])<<8,
			}
			if len(e.Value) >= 6 {
				inc.UUID = att.ShortUUID(uint16(e.Value[4]) | uint16(e.Value[5])<<8)
			}
			out = append(out, inc)
		}
		if last >= end {
			break
		}
		start = last + 1
	}
	return out, nil
}

// DiscoverCharacteristics issues Read-By-Type(Characteristic Declaration)
// across [start, end].
func (c *Client) DiscoverCharacteristics(ctx context.Context, start, end uint16) ([]Characteristic, error) {
	var out []Characteristic
	for start <= end {
		resp, err := c.att.SendRequest(ctx, att.ReadByTypeReq(start, end, att.ShortUUID(UUIDCharacteristic)), DefaultTimeout)
		if err != nil {
			if attErr, ok := asATTError(err); ok && attErr.Reason == att.ErrAttributeNotFound {
				break
			}
			return out, err
		}
		entries, last, perr := parseTypeList(resp)
		if perr != nil {
			return out, perr
		}
		for _, e := range entries {
			if len(e.Value) < 3 {
				continue
			}
			ch := Characteristic{
				DeclHandle:  e.Handle,
				Properties:  e.Value[0],
				ValueHandle: uint16(e.Value[1]) | uint16(e.Value[2])<<8,
			}
			ch.UUID = parseGroupUUID(e.Value[3:])
			out = append(out, ch)
		}
		if last >= end {
			break
		}
		start = last + 1
	}
	return out, nil
}

// DiscoverDescriptors issues Find-Information across [start, end], typically
// the gap between one characteristic's value handle and the next
// characteristic declaration (or the service's end handle).
func (c *Client) DiscoverDescriptors(ctx context.Context, start, end uint16) ([]Descriptor, error) {
	var out []Descriptor
	for start <= end {
		resp, err := c.att.SendRequest(ctx, att.FindInformationReq(start, end), DefaultTimeout)
		if err != nil {
			if attErr, ok := asATTError(err); ok && attErr.Reason == att.ErrAttributeNotFound {
				break
			}
			return out, err
		}
		pairs, last, perr := parseInfoList(resp)
		if perr != nil {
			return out, perr
		}
		for _, p := range pairs {
			out = append(out, Descriptor{Handle: p.Handle, UUID: p.UUID})
		}
		if last >= end {
			break
		}
		start = last + 1
	}
	return out, nil
}

// Read reads handle's full value. A response of exactly MTU-1 bytes means
// the value may be truncated, so the client chains Read Blob requests from
// offset MTU-1 until a short response arrives.
func (c *Client) Read(ctx context.Context, handle uint16) ([]byte, error) {
	mtu := c.l2.EffectiveMTU()
	resp, err := c.att.SendRequest(ctx, att.ReadReq(handle), DefaultTimeout)
	if err != nil {
		return nil, err
	}
	value := append([]byte{}, resp...)
	for len(resp) == int(mtu)-1 {
		resp, err = c.att.SendRequest(ctx, att.ReadBlobReq(handle, uint16(len(value))), DefaultTimeout)
		if err != nil {
			return value, err
		}
		value = append(value, resp...)
	}
	return value, nil
}

// Write performs a Write Request/Response for payloads within MTU-3, or
// falls through to a Prepare+Execute Write sequence for larger ones.
func (c *Client) Write(ctx context.Context, handle uint16, value []byte) error {
	mtu := int(c.l2.EffectiveMTU())
	if len(value) <= mtu-3 {
		_, err := c.att.SendRequest(ctx, att.WriteReq(handle, value), DefaultTimeout)
		return err
	}

	chunk := mtu - 5
	if chunk <= 0 {
		chunk = 1
	}
	for offset := 0; offset < len(value); offset += chunk {
		end := offset + chunk
		if end > len(value) {
			end = len(value)
		}
		if _, err := c.att.SendRequest(ctx, att.PrepareWriteReq(handle, uint16(offset), value[offset:end]), DefaultTimeout); err != nil {
			_, _ = c.att.SendRequest(ctx, att.ExecuteWriteReq(att.ExecuteWriteCancel), DefaultTimeout)
			return err
		}
	}
	_, err := c.att.SendRequest(ctx, att.ExecuteWriteReq(att.ExecuteWriteCommit), DefaultTimeout)
	return err
}

// WriteCommand fires an unacknowledged Write Command, bypassing the
// Prepare+Execute fallback since Write Command carries no response.
func (c *Client) WriteCommand(handle uint16, value []byte) error {
	return c.att.SendCommand(att.WriteCommand(handle, value))
}

// Subscribe writes the CCCD at cccdHandle to enable notify (0x0001)
// and/or indicate (0x0002).
func (c *Client) Subscribe(ctx context.Context, cccdHandle uint16, notify, indicate bool) error {
	var v uint16
	if notify {
		v |= CCCDNotify
	}
	if indicate {
		v |= CCCDIndicate
	}
	return c.Write(ctx, cccdHandle, []byte{byte(v), byte(v >> 8)})
}

// Unsubscribe writes the CCCD back to 0x0000.
func (c *Client) Unsubscribe(ctx context.Context, cccdHandle uint16) error {
	return c.Write(ctx, cccdHandle, []byte{0, 0})
}

// ConfirmIndication sends the Handle Value Confirmation required after an
// indication is processed, releasing the server's at-most-one gate.
func (c *Client) ConfirmIndication() error {
	return c.att.SendCommand(att.HandleValueConfirmation())
}

func asATTError(err error) (*att.Error, bool) {
	attErr, ok := err.(*att.Error)
	return attErr, ok
}

type groupEntry struct {
	Start, End uint16
	Value      []byte
}

func parseGroupList(resp []byte) ([]groupEntry, uint16, error) {
	if len(resp) < 1 {
		return nil, 0, errShort
	}
	length := int(resp[0])
	body := resp[1:]
	if length < 4 || len(body)%length != 0 {
		return nil, 0, errShort
	}
	var out []groupEntry
	var last uint16
	for i := 0; i+length <= len(body); i += length {
		e := body[i : i+length]
		g := groupEntry{
			Start: uint16(e[0]) | uint16(e[1])<<8,
			End:   uint16(e[2]) | uint16(e[3])<<8,
			Value: append([]byte{}, e[4:]...),
		}
		out = append(out, g)
		last = g.End
	}
	return out, last, nil
}

func parseGroupUUID(value []byte) att.AttrUUID {
	if len(value) == 2 {
		return att.ShortUUID(uint16(value[0]) | uint16(value[1])<<8)
	}
	u := att.AttrUUID{Is128: true}
	if len(value) == 16 {
		for i := 0; i < 16; i++ {
			u.Long[i] = value[15-i]
		}
	}
	return u
}

type typeEntry struct {
	Handle uint16
	Value  []byte
}

func parseTypeList(resp []byte) ([]typeEntry, uint16, error) {
	if len(resp) < 1 {
		return nil, 0, errShort
	}
	length := int(resp[0])
	body := resp[1:]
	if length < 2 || len(body)%length != 0 {
		return nil, 0, errShort
	}
	var out []typeEntry
	var last uint16
	for i := 0; i+length <= len(body); i += length {
		e := body[i : i+length]
		t := typeEntry{Handle: uint16(e[0]) | uint16(e[1])<<8, Value: append([]byte{}, e[2:]...)}
		out = append(out, t)
		last = t.Handle
	}
	return out, last, nil
}

func parseInfoList(resp []byte) ([]att.HandleUUID, uint16, error) {
	if len(resp) < 1 {
		return nil, 0, errShort
	}
	format := resp[0]
	body := resp[1:]
	width := 2
	if format == 2 {
		width = 16
	}
	stride := 2 + width
	if len(body)%stride != 0 {
		return nil, 0, errShort
	}
	var out []att.HandleUUID
	var last uint16
	for i := 0; i+stride <= len(body); i += stride {
		e := body[i : i+stride]
		handle := uint16(e[0]) | uint16(e[1])<<8
		var u att.AttrUUID
		if format == 2 {
			var id [16]byte
			copy(id[:], e[2:18])
			u = att.AttrUUID{Is128: true}
			for j := 0; j < 16; j++ {
				u.Long[j] = id[15-j]
			}
		} else {
			u = att.ShortUUID(uint16(e[2]) | uint16(e[3])<<8)
		}
		out = append(out, att.HandleUUID{Handle: handle, UUID: u})
		last = handle
	}
	return out, last, nil
}
