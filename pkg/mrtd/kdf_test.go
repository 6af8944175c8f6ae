package mrtd

import (
	"bytes"
	"math/bits"
	"testing"
)

// Seed and keys from the ICAO 9303 part 11 worked example for the
// specimen MRZ (document L898902C<, born 690806, expires 940623).
const (
	icaoKSeedHex = "239AB9CB282DAF66231DC5A4DF6BFBAE"
	icaoKEncHex  = "AB94FDECF2674FDFB9B391F85D7F76F2"
	icaoKMacHex  = "7962D9ECE03D1ACD4C76089DCE131543"
)

func TestDeriveKeyICAOWorkedExample(t *testing.T) {
	seed := mustHex(t, icaoKSeedHex)
	kenc := DeriveKey(seed, kdfEnc)
	kmac := DeriveKey(seed, kdfMAC)
	if !bytes.Equal(kenc[:], mustHex(t, icaoKEncHex)) {
		t.Fatalf("kEnc = %X", kenc)
	}
	if !bytes.Equal(kmac[:], mustHex(t, icaoKMacHex)) {
		t.Fatalf("kMac = %X", kmac)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	seed := mustHex(t, icaoKSeedHex)
	a := DeriveKey(seed, 7)
	b := DeriveKey(seed, 7)
	if a != b {
		t.Fatal("same seed and counter must derive the same key")
	}
	if c := DeriveKey(seed, 8); c == a {
		t.Fatal("different counters must derive different keys")
	}
}

func TestDeriveKeyOutputHasOddParity(t *testing.T) {
	seeds := [][]byte{
		mustHex(t, icaoKSeedHex),
		make([]byte, 16),
		bytes.Repeat([]byte{0xFF}, 16),
	}
	for _, seed := range seeds {
		for counter := uint32(1); counter <= 4; counter++ {
			key := DeriveKey(seed, counter)
			for i, b := range key {
				if bits.OnesCount8(b)%2 != 1 {
					t.Fatalf("seed %X counter %d: byte %d (%02X) has even parity", seed, counter, i, b)
				}
			}
		}
	}
}

func TestDeriveBACKeysFromSpecimenMRZ(t *testing.T) {
	m, err := ParseMRZ(sampleLine1, sampleLine2)
	if err != nil {
		t.Fatalf("ParseMRZ returned error: %v", err)
	}
	kenc, kmac := DeriveBACKeys(m.Information())
	if !bytes.Equal(kenc[:], mustHex(t, icaoKEncHex)) {
		t.Fatalf("kEnc = %X", kenc)
	}
	if !bytes.Equal(kmac[:], mustHex(t, icaoKMacHex)) {
		t.Fatalf("kMac = %X", kmac)
	}
}

func TestDerivePACEKeyIsSHA1Prefix(t *testing.T) {
	m, err := ParseMRZ(sampleLine1, sampleLine2)
	if err != nil {
		t.Fatalf("ParseMRZ returned error: %v", err)
	}
	// The PACE password key is the BAC kSeed before parity adjustment.
	key := DerivePACEKey(m.Information())
	if !bytes.Equal(key[:], mustHex(t, icaoKSeedHex)) {
		t.Fatalf("PACE key = %X", key)
	}
}
