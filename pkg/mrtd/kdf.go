package mrtd

import (
	"crypto/sha1"
	"encoding/binary"
	"math/bits"
)

// KDF counters per ICAO 9303 part 11: 1 derives the encryption key,
// 2 derives the MAC key.
const (
	kdfEnc uint32 = 1
	kdfMAC uint32 = 2
)

// DeriveKey implements the ICAO 9303 key derivation function:
// SHA-1 over seed || big-endian counter, truncated to 16 bytes, with
// odd parity forced onto the low bit of every byte.
func DeriveKey(seed []byte, counter uint32) [16]byte {
	h := sha1.New()
	h.Write(seed)
	var ctr [4]byte
	binary.BigEndian.PutUint32(ctr[:], counter)
	h.Write(ctr[:])
	digest := h.Sum(nil)

	var key [16]byte
	copy(key[:], digest[:16])
	adjustParity(key[:])
	return key
}

// adjustParity forces odd parity per byte: the low bit is set so that
// the total number of set bits in the byte is odd.
func adjustParity(b []byte) {
	for i, v := range b {
		if bits.OnesCount8(v&0xFE)%2 == 0 {
			b[i] = v | 0x01
		} else {
			b[i] = v & 0xFE
		}
	}
}

// DeriveBACKeys derives the long-term BAC keys from an MRZ-information
// string: kSeed is the first 16 bytes of SHA-1(info), the keys follow
// from the KDF with counters 1 and 2.
func DeriveBACKeys(info string) (kenc, kmac [16]byte) {
	digest := sha1.Sum([]byte(info))
	seed := digest[:16]
	kenc = DeriveKey(seed, kdfEnc)
	kmac = DeriveKey(seed, kdfMAC)
	wipe(seed)
	return kenc, kmac
}

// DerivePACEKey derives the PACE password key from an MRZ-information
// string: the first 16 bytes of its SHA-1 digest.
func DerivePACEKey(info string) [16]byte {
	digest := sha1.Sum([]byte(info))
	var key [16]byte
	copy(key[:], digest[:16])
	return key
}
