// Package framing implements the WHAD host<->dongle wire framing: a 2-byte
// magic, a little-endian 16-bit payload length, and an opaque payload of
// that many bytes. It guarantees re-synchronization on magic mismatch and
// never delivers a partial message to upper layers.
package framing

import (
	"encoding/binary"
	"errors"
)

// MagicHi and MagicLo are the two bytes that open every framed message.
const (
	MagicHi byte = 0xAC
	MagicLo byte = 0xBE

	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = 4

	// MaxPayloadSize is the largest payload a 16-bit length field can carry.
	MaxPayloadSize = 0xFFFF
)

// ErrBufferOverflow is returned when writing to a Codec would exceed its
// configured maximum buffer size.
var ErrBufferOverflow = errors.New("framing: buffer overflow")

// Encode wraps a payload in the WHAD frame header.
func Encode(payload []byte) []byte {
	if len(payload) > MaxPayloadSize {
		payload = payload[:MaxPayloadSize]
	}
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = MagicHi
	frame[1] = MagicLo
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// Codec reassembles framed messages out of an arbitrarily chunked byte
// stream. It is not safe for concurrent use; a Device feeds it from a single
// reader goroutine.
type Codec struct {
	buf     []byte
	maxSize int
}

// NewCodec creates a Codec with the given maximum buffer size (0 means a
// reasonable default of 1MiB, generous enough to never legitimately
// overflow given MaxPayloadSize-bounded frames).
func NewCodec(maxSize int) *Codec {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	return &Codec{maxSize: maxSize}
}

// Write appends bytes read from the transport to the internal buffer.
func (c *Codec) Write(data []byte) error {
	if len(c.buf)+len(data) > c.maxSize {
		return ErrBufferOverflow
	}
	c.buf = append(c.buf, data...)
	return nil
}

// Next extracts at most one complete frame's payload from the internal
// buffer. It returns (nil, false) when no complete frame is available yet.
// Bytes preceding a valid magic are discarded one at a time, satisfying the
// spec's resynchronization requirement: feeding a byte stream in any
// chunking yields the same sequence of decoded messages.
func (c *Codec) Next() (payload []byte, ok bool) {
	for {
		if len(c.buf) < 2 {
			return nil, false
		}
		if c.buf[0] == MagicHi && c.buf[1] == MagicLo {
			break
		}
		c.buf = c.buf[1:]
	}

	if len(c.buf) < HeaderSize {
		return nil, false
	}

	length := int(binary.LittleEndian.Uint16(c.buf[2:4]))
	total := HeaderSize + length
	if len(c.buf) < total {
		return nil, false
	}

	payload = make([]byte, length)
	copy(payload, c.buf[HeaderSize:total])
	c.buf = c.buf[total:]
	return payload, true
}

// Drain repeatedly calls Next, returning every complete frame currently
// buffered.
func (c *Codec) Drain() [][]byte {
	var frames [][]byte
	for {
		payload, ok := c.Next()
		if !ok {
			return frames
		}
		frames = append(frames, payload)
	}
}

// Len returns the number of buffered, not-yet-decoded bytes.
func (c *Codec) Len() int { return len(c.buf) }

// Reset clears the internal buffer, discarding any partial frame.
func (c *Codec) Reset() { c.buf = c.buf[:0] }
