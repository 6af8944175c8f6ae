package mrtd

import (
	"bytes"
	"testing"
)

func TestRetailMACICAOWorkedExample(t *testing.T) {
	// E_IFD and M_IFD from the ICAO 9303 part 11 BAC worked example,
	// MACed under the specimen kMac.
	kmac := mustHex(t, icaoKMacHex)
	eifd := mustHex(t, "72C29C2371CC9BDB65B779B8E8D37B29ECC154AA56A8799FAE2F498F76ED92F2")
	mac, err := RetailMAC(kmac, eifd)
	if err != nil {
		t.Fatalf("RetailMAC returned error: %v", err)
	}
	if !bytes.Equal(mac, mustHex(t, "5F1448EEA8AD90A7")) {
		t.Fatalf("MAC = %X", mac)
	}
}

func TestRetailMACDeterministic(t *testing.T) {
	key := mustHex(t, icaoKMacHex)
	msg := []byte("retail mac input")
	a, err := RetailMAC(key, msg)
	if err != nil {
		t.Fatalf("RetailMAC returned error: %v", err)
	}
	b, err := RetailMAC(key, msg)
	if err != nil {
		t.Fatalf("RetailMAC returned error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("MAC must be deterministic")
	}
	if len(a) != 8 {
		t.Fatalf("MAC must be 8 bytes, got %d", len(a))
	}
}

func TestRetailMACRejectsShortKey(t *testing.T) {
	if _, err := RetailMAC(make([]byte, 8), []byte("x")); err == nil {
		t.Fatal("expected error for 8-byte key")
	}
}

func TestPaddingAlwaysAddsOneToEightBytes(t *testing.T) {
	for n := 0; n <= 24; n++ {
		in := bytes.Repeat([]byte{0xAB}, n)
		out := padISO9797M2(in, 8)
		added := len(out) - n
		if added < 1 || added > 8 {
			t.Fatalf("len %d: padding added %d bytes", n, added)
		}
		if len(out)%8 != 0 {
			t.Fatalf("len %d: padded length %d not block aligned", n, len(out))
		}
		if out[n] != 0x80 {
			t.Fatalf("len %d: first pad byte is %02X", n, out[n])
		}
		for _, b := range out[n+1:] {
			if b != 0x00 {
				t.Fatalf("len %d: nonzero fill byte", n)
			}
		}
	}
}

func TestUnpadRoundTrip(t *testing.T) {
	for n := 0; n <= 17; n++ {
		in := bytes.Repeat([]byte{0x5A}, n)
		out, err := unpadISO9797M2(padISO9797M2(in, 8))
		if err != nil {
			t.Fatalf("len %d: unpad error %v", n, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
	if _, err := unpadISO9797M2(make([]byte, 8)); err == nil {
		t.Fatal("expected error for all-zero block")
	}
}
