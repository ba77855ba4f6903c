package dot15d4

import "testing"

func TestNotificationRoundTrip(t *testing.T) {
	n := &Notification{
		kind:      kindAssociated,
		PANID:     0xCAFE,
		ShortAddr: 0x1234,
		ExtAddr:   0x1122334455667788,
		Channel:   11,
		RSSI:      -40,
		LQI:       200,
	}
	raw, err := n.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := decodeNotification(kindAssociated)(1, "associated", raw[1:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.(*Notification)
	if got.PANID != n.PANID || got.ShortAddr != n.ShortAddr || got.ExtAddr != n.ExtAddr {
		t.Fatalf("got %+v, want %+v", got, n)
	}
	if got.RSSI != n.RSSI || got.LQI != n.LQI {
		t.Fatalf("rssi/lqi mismatch: got %d/%d want %d/%d", got.RSSI, got.LQI, n.RSSI, n.LQI)
	}
}

func TestStackTracksAssociationState(t *testing.T) {
	s := &Stack{}
	var got BeaconInfo
	s.OnBeacon = func(b BeaconInfo) { got = b }

	s.onRawMessage(&Notification{kind: kindBeacon, PANID: 1, Channel: 15})
	if got.PANID != 1 || got.Channel != 15 {
		t.Fatalf("OnBeacon not invoked with expected data: %+v", got)
	}

	if s.Associated() {
		t.Fatal("expected not associated before any associated notification")
	}
	s.onRawMessage(&Notification{kind: kindAssociated, PANID: 7, ShortAddr: 0x42})
	if !s.Associated() {
		t.Fatal("expected associated after associated notification")
	}
	s.onRawMessage(&Notification{kind: kindDisassociated})
	if s.Associated() {
		t.Fatal("expected not associated after disassociated notification")
	}
}
