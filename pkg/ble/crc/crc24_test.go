package crc

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestChannelCRC(t *testing.T) {
	payload, err := hex.DecodeString("0215110006000461ca0ce41b1e430559ac74e382667051")
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want, err := hex.DecodeString("545d96")
	if err != nil {
		t.Fatalf("decode want: %v", err)
	}

	got := ChannelCRC(payload)
	if !bytes.Equal(got[:], want) {
		t.Errorf("ChannelCRC() = %x, want %x", got, want)
	}
}

func TestReflectRoundTrip(t *testing.T) {
	if got := Reflect(Reflect(DefaultInit)); got != DefaultInit {
		t.Errorf("Reflect(Reflect(x)) = %x, want %x", got, DefaultInit)
	}
	if got := Reflect(DefaultInit); got != 0xAAAAAA {
		t.Errorf("Reflect(0x555555) = %x, want 0xaaaaaa", got)
	}
}
