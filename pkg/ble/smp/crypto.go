// c1/s1 implement the BLE legacy pairing key-derivation functions from
// Bluetooth Core Spec Vol 3 Part H Section 2.2.3/2.2.4.
// The pairing state machine in this package is responsible for converting
// PDU fields out of wire (LSB-first) byte order into the order c1/s1 take
// here before calling them; c1/s1 themselves do no reversal and run a plain
// AES-128 single-block encrypt per step.
package smp

import "crypto/aes"

// e is the Core Spec's "e" function: AES-128 encrypt of one 16-byte block.
func e(key, plaintext [16]byte) [16]byte {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// key is always exactly 16 bytes; NewCipher only fails on bad
		// key length.
		panic(err)
	}
	var out [16]byte
	block.Encrypt(out[:], plaintext[:])
	return out
}

func xor16(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// c1 computes the legacy pairing confirm value.
//
//	p1 = pres || preq || rat || iat   (7+7+1+1 = 16 bytes)
//	p2 = 0x00000000 || ia || ra       (4+6+6 = 16 bytes)
//	c1 = e(k, e(k, r XOR p1) XOR p2)
//
// All of r, preq, pres, ia, ra are expected already reversed from wire
// order by the caller.
func c1(k, r [16]byte, preq, pres [7]byte, iat byte, ia [6]byte, rat byte, ra [6]byte) [16]byte {
	var p1, p2 [16]byte
	copy(p1[0:7], pres[:])
	copy(p1[7:14], preq[:])
	p1[14] = rat
	p1[15] = iat

	copy(p2[4:10], ia[:])
	copy(p2[10:16], ra[:])

	step1 := e(k, xor16(r, p1))
	return e(k, xor16(step1, p2))
}

// s1 computes the legacy pairing short-term key:
//
//	r' = r1_low64 || r2_low64
//	STK = e(k, r')
//
// per Core Spec Vol 3 Part H Section 2.2.4. r1 and r2 are taken in the same
// reversed-from-wire convention as c1's inputs.
func s1(k, r1, r2 [16]byte) [16]byte {
	var rPrime [16]byte
	copy(rPrime[0:8], r1[8:16])
	copy(rPrime[8:16], r2[8:16])
	return e(k, rPrime)
}

// reverse16 returns a byte-reversed copy of a 16-byte wire value, converting
// between on-the-wire (LSB-first) order and the Core Spec's internal order.
func reverse16(b [16]byte) [16]byte {
	var out [16]byte
	for i := range b {
		out[i] = b[15-i]
	}
	return out
}

// reverse6 is reverse16's analogue for 6-byte BD addresses.
func reverse6(b [6]byte) [6]byte {
	var out [6]byte
	for i := range b {
		out[i] = b[5-i]
	}
	return out
}

// reverse7 is reverse16's analogue for 7-byte SMP PDUs (opcode + 6 fixed
// fields, as carried by Pairing Request/Response on the wire).
func reverse7(b [7]byte) [7]byte {
	var out [7]byte
	for i := range b {
		out[i] = b[6-i]
	}
	return out
}
