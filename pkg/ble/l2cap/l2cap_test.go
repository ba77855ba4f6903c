package l2cap

import (
	"bytes"
	"testing"
)

func TestReassembleSinglePacket(t *testing.T) {
	c := New(DefaultMTU)
	sdu, err := c.FeedFragment(CIDAtt, true, 3, []byte{0x0a, 0x01, 0x02})
	if err != nil {
		t.Fatalf("FeedFragment: %v", err)
	}
	if sdu == nil || !bytes.Equal(sdu.Data, []byte{0x0a, 0x01, 0x02}) {
		t.Fatalf("sdu = %+v", sdu)
	}
}

func TestReassembleAcrossFragments(t *testing.T) {
	c := New(DefaultMTU)
	if sdu, err := c.FeedFragment(CIDAtt, true, 6, []byte{1, 2, 3}); err != nil || sdu != nil {
		t.Fatalf("first fragment: sdu=%+v err=%v", sdu, err)
	}
	sdu, err := c.FeedFragment(CIDAtt, false, 0, []byte{4, 5, 6})
	if err != nil {
		t.Fatalf("second fragment: %v", err)
	}
	if sdu == nil || !bytes.Equal(sdu.Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("sdu = %+v", sdu)
	}
}

func TestNewFirstFragmentMidReassemblyRaisesError(t *testing.T) {
	c := New(DefaultMTU)
	var gotCID uint16
	c.OnFragmentationError = func(cid uint16) { gotCID = cid }

	if _, err := c.FeedFragment(CIDAtt, true, 10, []byte{1, 2, 3}); err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	sdu, err := c.FeedFragment(CIDAtt, true, 2, []byte{9, 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sdu == nil || !bytes.Equal(sdu.Data, []byte{9, 9}) {
		t.Fatalf("expected the new SDU to win reassembly, got %+v", sdu)
	}
	if gotCID != CIDAtt {
		t.Errorf("OnFragmentationError cid = %#x, want %#x", gotCID, CIDAtt)
	}
}

func TestMTUNegotiation(t *testing.T) {
	c := New(185)
	c.SetRemoteMTU(min16(185, 100))
	if got := c.EffectiveMTU(); got != 100 {
		t.Errorf("EffectiveMTU() = %d, want 100", got)
	}
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
