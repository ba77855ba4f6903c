package gatt

import (
	"context"
	"testing"

	"github.com/whad-go/whad/pkg/ble/att"
	"github.com/whad-go/whad/pkg/ble/l2cap"
)

// loopTransport wires a Layer's outbound PDUs directly into a peer Layer's
// HandleIncoming, modeling the L2CAP CID-0x0004 pipe between client and
// server in a single process for testing.
type loopTransport struct {
	peer *att.Layer
}

func (t *loopTransport) Send(pdu []byte) error {
	return t.peer.HandleIncoming(pdu)
}

type fakeSubscriber struct {
	subs map[uint16]bool
}

func (f *fakeSubscriber) Subscribe(handle uint16, notify, indicate bool) {
	if f.subs == nil {
		f.subs = make(map[uint16]bool)
	}
	f.subs[handle] = notify || indicate
}
func (f *fakeSubscriber) Unsubscribe(handle uint16)  { delete(f.subs, handle) }
func (f *fakeSubscriber) IsSubscribed(handle uint16) bool { return f.subs[handle] }

func buildPair(t *testing.T) (*Client, *Server, *DB) {
	t.Helper()
	serverL2 := l2cap.New(l2cap.DefaultMTU)
	clientL2 := l2cap.New(l2cap.DefaultMTU)

	// Each Layer needs the other as its Transport, so build them with a
	// forwarding shim whose peer pointer is patched in after both exist.
	serverTransport := &loopTransport{}
	clientTransport := &loopTransport{}
	serverLayer := att.NewLayer(serverTransport, serverL2)
	clientLayer := att.NewLayer(clientTransport, clientL2)
	serverTransport.peer = clientLayer
	clientTransport.peer = serverLayer

	db := NewDB()
	svc := db.AddService(att.ShortUUID(0x1800), false)
	db.AddCharacteristic(att.ShortUUID(0x2a00), Permissions{Read: true, Write: true, Notify: true}, []byte("device"))
	db.AddDescriptor(att.ShortUUID(UUIDCCCD), Permissions{Read: true, Write: true}, []byte{0, 0})
	_ = db.CloseGroup(svc)

	sub := &fakeSubscriber{}
	server := NewServer(db, serverLayer, sub)
	client := NewClient(clientLayer, clientL2)
	return client, server, db
}

func TestDiscoverPrimaryServicesAndReadWrite(t *testing.T) {
	client, _, db := buildPair(t)
	ctx := context.Background()

	services, err := client.DiscoverPrimaryServices(ctx)
	if err != nil {
		t.Fatalf("DiscoverPrimaryServices: %v", err)
	}
	if len(services) != 1 || services[0].UUID.Short != 0x1800 {
		t.Fatalf("services = %+v", services)
	}

	chars, err := client.DiscoverCharacteristics(ctx, services[0].StartHandle, services[0].EndHandle)
	if err != nil {
		t.Fatalf("DiscoverCharacteristics: %v", err)
	}
	if len(chars) != 1 || chars[0].UUID.Short != 0x2a00 {
		t.Fatalf("chars = %+v", chars)
	}

	value, err := client.Read(ctx, chars[0].ValueHandle)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(value) != "device" {
		t.Fatalf("value = %q, want %q", value, "device")
	}

	if err := client.Write(ctx, chars[0].ValueHandle, []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := db.Get(chars[0].ValueHandle).Value; string(got) != "updated" {
		t.Errorf("db value = %q, want %q", got, "updated")
	}
}

func TestReadUnknownHandleReturnsError(t *testing.T) {
	client, _, _ := buildPair(t)
	_, err := client.Read(context.Background(), 0x9999)
	attErr, ok := err.(*att.Error)
	if !ok {
		t.Fatalf("expected *att.Error, got %v (%T)", err, err)
	}
	if attErr.Reason != att.ErrInvalidHandle {
		t.Errorf("reason = %v, want invalid handle", attErr.Reason)
	}
}
