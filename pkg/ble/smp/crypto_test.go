package smp

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return b
}

func TestC1JustWorks(t *testing.T) {
	var tk, rand, confirm [16]byte
	var pres, preq [7]byte
	var ia, ra [6]byte

	copy(rand[:], mustHex(t, "5783D52156AD6F0E6388274EC6702EE0"))
	copy(pres[:], mustHex(t, "05000800000302"))
	copy(preq[:], mustHex(t, "07071000000101"))
	copy(ia[:], mustHex(t, "A1A2A3A4A5A6"))
	copy(ra[:], mustHex(t, "B1B2B3B4B5B6"))
	copy(confirm[:], mustHex(t, "1e1e3fef878988ead2a74dc5bef13b86"))

	// IA is a random address, RA is public.
	const iat, rat byte = 1, 0

	got := c1(tk, rand, preq, pres, iat, ia, rat, ra)
	if !bytes.Equal(got[:], confirm[:]) {
		t.Errorf("c1() = %x, want %x", got, confirm)
	}
}
