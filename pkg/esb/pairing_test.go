package esb

import "testing"

func TestSplitKeyReconstructs(t *testing.T) {
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	shares, err := splitKey(key, 4)
	if err != nil {
		t.Fatalf("splitKey: %v", err)
	}
	if len(shares) != 4 {
		t.Fatalf("got %d shares, want 4", len(shares))
	}

	flat := make([][]byte, len(shares))
	for i, s := range shares {
		flat[i] = append([]byte{}, s[:]...)
	}
	got, err := reconstructKey(flat)
	if err != nil {
		t.Fatalf("reconstructKey: %v", err)
	}
	if got != key {
		t.Fatalf("reconstructed key = %x, want %x", got, key)
	}
}

func TestSplitKeyRejectsTooFewShares(t *testing.T) {
	if _, err := splitKey([16]byte{}, 1); err == nil {
		t.Fatal("expected an error requesting a 1-share chain")
	}
}

func TestOnRawMessageReconstructsKeyAcrossSeedMessages(t *testing.T) {
	s := &Stack{linkKeys: make(map[uint32][16]byte), pending: make(map[uint32][][]byte)}

	key := [16]byte{0xAA, 0xBB, 0xCC}
	shares, err := splitKey(key, 3)
	if err != nil {
		t.Fatalf("splitKey: %v", err)
	}

	var pairedAddr uint32
	var pairedKey [16]byte
	s.OnPaired = func(addr uint32, k [16]byte) { pairedAddr = addr; pairedKey = k }

	for i, share := range shares {
		last := i == len(shares)-1
		s.onRawMessage(&Notification{kind: kindKeySeed, Addr: 0x1234, KeySeedIndex: byte(i), KeySeedLast: last, data: append([]byte{}, share[:]...)})
	}

	if pairedAddr != 0x1234 {
		t.Fatalf("OnPaired addr = %#x, want 0x1234", pairedAddr)
	}
	if pairedKey != key {
		t.Fatalf("OnPaired key = %x, want %x", pairedKey, key)
	}
	if got, ok := s.LinkKey(0x1234); !ok || got != key {
		t.Fatalf("LinkKey(0x1234) = %x, %v, want %x, true", got, ok, key)
	}
}

func TestOnDataDispatchesBeforePairing(t *testing.T) {
	s := &Stack{linkKeys: make(map[uint32][16]byte), pending: make(map[uint32][][]byte)}
	var gotAddr uint32
	var gotPayload []byte
	s.OnData = func(addr uint32, payload []byte) { gotAddr = addr; gotPayload = payload }

	s.onRawMessage(&Notification{kind: kindData, Addr: 0x42, data: []byte("hi")})

	if gotAddr != 0x42 || string(gotPayload) != "hi" {
		t.Fatalf("OnData got (%#x, %q), want (0x42, \"hi\")", gotAddr, gotPayload)
	}
}
