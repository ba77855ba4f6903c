// Package gatt implements the two GATT roles over one codebase: Client
// (service/characteristic/descriptor discovery, MTU-aware reads and
// writes, CCCD subscription) and Server (the attribute database,
// permission enforcement, and notify/indicate delivery with the
// at-most-one-outstanding-indication gate).
//
// The attribute database allocates strictly increasing handles grouped by
// declaration, and holds wire-level records (uuid/permissions/value) rather
// than a Service/Characteristic object tree, so the server can serve a
// profile loaded from JSON without an intermediate object model.
package gatt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/whad-go/whad/pkg/ble/att"
)

// GATT declaration UUIDs, Bluetooth SIG-assigned, Core Spec Vol 3 Part G.
const (
	UUIDPrimaryService   att.UUID16 = 0x2800
	UUIDSecondaryService att.UUID16 = 0x2801
	UUIDIncludeDecl      att.UUID16 = 0x2802
	UUIDCharacteristic   att.UUID16 = 0x2803
	UUIDCCCD             att.UUID16 = 0x2902
)

// CCCD value bits, Core Spec Vol 3 Part G Section 3.3.3.3.
const (
	CCCDNotify   uint16 = 0x0001
	CCCDIndicate uint16 = 0x0002
)

// Permissions gates what a client may do to an attribute, and whether
// doing so requires link-layer security.
type Permissions struct {
	Read                bool
	Write                bool
	WriteWithoutResponse bool
	Notify               bool
	Indicate             bool
	RequireEncryption    bool
}

// Attribute is one record in the database.
type Attribute struct {
	Handle      uint16
	UUID        att.AttrUUID
	Permissions Permissions
	Value       []byte

	// GroupEnd is non-zero on a service/characteristic declaration
	// attribute and names the last handle in its grouping, letting
	// Read-By-Group-Type answer without a second pass over the database.
	GroupEnd uint16
}

// DB is the ordered attribute database a Server exposes. Handles are
// strictly increasing with no gaps inside a grouping, enforced by the
// Add* builder methods rather than by arbitrary Insert.
type DB struct {
	mu    sync.RWMutex
	attrs []*Attribute // sorted by Handle
	next  uint16
}

// NewDB creates an empty database; handles are allocated starting at 1.
func NewDB() *DB {
	return &DB{next: 1}
}

func (d *DB) alloc() uint16 {
	h := d.next
	d.next++
	return h
}

// AddService appends a primary or secondary service declaration, returning
// its handle. Call AddCharacteristic for each characteristic before calling
// AddService again, then call CloseGroup to fix up GroupEnd.
func (d *DB) AddService(uuid att.AttrUUID, secondary bool) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	declType := UUIDPrimaryService
	if secondary {
		declType = UUIDSecondaryService
	}
	h := d.alloc()
	d.attrs = append(d.attrs, &Attribute{
		Handle:      h,
		UUID:        att.ShortUUID(declType),
		Permissions: Permissions{Read: true},
		Value:       uuid.Bytes(),
	})
	return h
}

// AddIncludedService appends an Include declaration referencing an already
// defined service by its start/end handle and UUID.
func (d *DB) AddIncludedService(includedStart, includedEnd uint16, serviceUUID att.AttrUUID) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.alloc()
	value := make([]byte, 0, 4+len(serviceUUID.Bytes()))
	value = append(value, byte(includedStart), byte(includedStart>>8))
	value = append(value, byte(includedEnd), byte(includedEnd>>8))
	if !serviceUUID.Is128 {
		value = append(value, serviceUUID.Bytes()...)
	}
	d.attrs = append(d.attrs, &Attribute{
		Handle:      h,
		UUID:        att.ShortUUID(UUIDIncludeDecl),
		Permissions: Permissions{Read: true},
		Value:       value,
	})
	return h
}

// AddCharacteristic appends a characteristic declaration followed
// immediately by its value attribute, keeping the grouping order primary
// service -> included services -> characteristic declarations ->
// descriptors. It returns the value attribute's handle, which callers use
// to set the initial value and to add descriptors against.
func (d *DB) AddCharacteristic(uuid att.AttrUUID, perms Permissions, initial []byte) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	declHandle := d.alloc()
	valueHandle := d.alloc()

	properties := charProperties(perms)
	declValue := make([]byte, 0, 3+len(uuid.Bytes()))
	declValue = append(declValue, properties, byte(valueHandle), byte(valueHandle>>8))
	declValue = append(declValue, uuid.Bytes()...)

	d.attrs = append(d.attrs,
		&Attribute{Handle: declHandle, UUID: att.ShortUUID(UUIDCharacteristic), Permissions: Permissions{Read: true}, Value: declValue},
		&Attribute{Handle: valueHandle, UUID: uuid, Permissions: perms, Value: append([]byte{}, initial...)},
	)
	return valueHandle
}

func charProperties(p Permissions) byte {
	var props byte
	if p.Read {
		props |= 0x02
	}
	if p.WriteWithoutResponse {
		props |= 0x04
	}
	if p.Write {
		props |= 0x08
	}
	if p.Notify {
		props |= 0x10
	}
	if p.Indicate {
		props |= 0x20
	}
	return props
}

// AddDescriptor appends a descriptor attribute (e.g. the CCCD) after the
// characteristic value it belongs to.
func (d *DB) AddDescriptor(uuid att.AttrUUID, perms Permissions, initial []byte) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.alloc()
	d.attrs = append(d.attrs, &Attribute{Handle: h, UUID: uuid, Permissions: perms, Value: append([]byte{}, initial...)})
	return h
}

// CloseGroup sets groupHandle's GroupEnd to the last handle allocated so
// far, completing a service's grouping once all its characteristics and
// descriptors have been added.
func (d *DB) CloseGroup(groupHandle uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	attr := d.find(groupHandle)
	if attr == nil {
		return fmt.Errorf("gatt: no attribute at handle %#04x", groupHandle)
	}
	attr.GroupEnd = d.next - 1
	return nil
}

func (d *DB) find(handle uint16) *Attribute {
	i := sort.Search(len(d.attrs), func(i int) bool { return d.attrs[i].Handle >= handle })
	if i < len(d.attrs) && d.attrs[i].Handle == handle {
		return d.attrs[i]
	}
	return nil
}

// Get returns the attribute at handle, or nil.
func (d *DB) Get(handle uint16) *Attribute {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.find(handle)
}

// Range returns every attribute with start <= Handle <= end, in handle order.
func (d *DB) Range(start, end uint16) []*Attribute {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Attribute
	for _, a := range d.attrs {
		if a.Handle < start {
			continue
		}
		if a.Handle > end {
			break
		}
		out = append(out, a)
	}
	return out
}

// SetValue overwrites handle's stored value, used both by a server
// responding to local application writes and by Write Request handling.
func (d *DB) SetValue(handle uint16, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	attr := d.find(handle)
	if attr == nil {
		return fmt.Errorf("gatt: no attribute at handle %#04x", handle)
	}
	attr.Value = append([]byte{}, value...)
	return nil
}

// MaxHandle is 0xFFFF, the sentinel end-of-database handle discovery
// loops use to detect completion.
const MaxHandle uint16 = 0xFFFF
