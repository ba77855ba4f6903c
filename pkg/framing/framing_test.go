package framing

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	frame := Encode(payload)

	c := NewCodec(0)
	if err := c.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok := c.Next()
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
	if c.Len() != 0 {
		t.Fatalf("expected buffer drained, got %d bytes left", c.Len())
	}
}

func TestResyncOnGarbage(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	frame := Encode(payload)

	c := NewCodec(0)
	garbage := []byte{0x00, 0x11, 0x22, 0xAC} // trailing 0xAC is a false-start
	if err := c.Write(append(garbage, frame...)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok := c.Next()
	if !ok {
		t.Fatalf("expected resync to find the frame")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
}

func TestChunkingIndependence(t *testing.T) {
	payloads := [][]byte{{0x01}, {0x02, 0x03}, {}, {0x04, 0x05, 0x06}}
	var stream []byte
	for _, p := range payloads {
		stream = append(stream, Encode(p)...)
	}

	// Feed byte-by-byte.
	c1 := NewCodec(0)
	var decoded1 [][]byte
	for _, b := range stream {
		c1.Write([]byte{b})
		decoded1 = append(decoded1, c1.Drain()...)
	}

	// Feed as one chunk.
	c2 := NewCodec(0)
	c2.Write(stream)
	decoded2 := c2.Drain()

	if len(decoded1) != len(decoded2) {
		t.Fatalf("chunking changed message count: %d vs %d", len(decoded1), len(decoded2))
	}
	for i := range decoded1 {
		if !bytes.Equal(decoded1[i], decoded2[i]) {
			t.Fatalf("frame %d differs between chunkings", i)
		}
	}
}

func TestIncompleteFrameWaits(t *testing.T) {
	frame := Encode([]byte{0x01, 0x02, 0x03})
	c := NewCodec(0)
	c.Write(frame[:len(frame)-1])
	if _, ok := c.Next(); ok {
		t.Fatalf("expected incomplete frame to not decode")
	}
	c.Write(frame[len(frame)-1:])
	if _, ok := c.Next(); !ok {
		t.Fatalf("expected frame to decode once complete")
	}
}

func TestBufferOverflow(t *testing.T) {
	c := NewCodec(4)
	if err := c.Write([]byte{1, 2, 3, 4, 5}); err == nil {
		t.Fatalf("expected overflow error")
	}
}
