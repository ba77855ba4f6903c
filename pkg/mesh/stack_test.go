package mesh

import "testing"

func newTestStack(t *testing.T) *Stack {
	t.Helper()
	s := &Stack{netKeys: make(map[uint16]NetKey), appKeys: make(map[uint16]AppKey)}
	s.Model.AppKeyBindings = make(map[uint16][]uint16)
	s.AddNetKey(NetKey{Index: 0, Key: [16]byte{1, 2, 3, 4}})
	if err := s.AddAppKey(AppKey{Index: 0, Key: [16]byte{5, 6, 7, 8}, NetKeyIndex: 0}); err != nil {
		t.Fatalf("add app key: %v", err)
	}
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := newTestStack(t)
	payload := []byte("turn on")

	wire, err := s.encode(0, 0x0001, 0xC000, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	src, dst, appIdx, out, err := s.decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if src != 0x0001 || dst != 0xC000 || appIdx != 0 {
		t.Fatalf("decode headers = %#04x/%#04x/%d, want 0x0001/0xc000/0", src, dst, appIdx)
	}
	if string(out) != string(payload) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", out, payload)
	}
}

func TestDecodeRejectsUnknownAppKey(t *testing.T) {
	s := newTestStack(t)
	wire, err := s.encode(0, 1, 2, []byte("x"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	other := newTestStack(t)
	delete(other.appKeys, 0)
	if _, _, _, _, err := other.decode(wire); err == nil {
		t.Fatal("expected an error decoding with no matching app key")
	}
}

func TestHeartbeatSubscriptionCountsMatchingSource(t *testing.T) {
	s := newTestStack(t)
	s.SubscribeHeartbeat(0x0042, 0xC000, 16)

	s.onRawMessage(&Notification{kind: kindHeartbeat, SrcAddr: 0x0042, TTL: 3})
	s.onRawMessage(&Notification{kind: kindHeartbeat, SrcAddr: 0x0099, TTL: 3})
	s.onRawMessage(&Notification{kind: kindHeartbeat, SrcAddr: 0x0042, TTL: 2})

	if got := s.HeartbeatCount(); got != 2 {
		t.Fatalf("heartbeat count = %d, want 2 (unmatched source ignored)", got)
	}
}

func TestBindModelApp(t *testing.T) {
	s := newTestStack(t)
	s.BindModelApp(0xC000, 0)
	s.BindModelApp(0xC000, 1)

	got := s.Model.AppKeyBindings[0xC000]
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("app key bindings = %v, want [0 1]", got)
	}
}
