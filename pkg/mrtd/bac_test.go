package mrtd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// ICAO 9303 part 11 BAC worked example values.
const (
	icaoRndICHex  = "4608F91988702212"
	icaoRndIFDHex = "781723860C06C226"
	icaoKIFDHex   = "0B795240CB7049B01C19B33E32804F0B"
	icaoKICHex    = "0B4F80323EB3191CB04970CB4052790B"
	icaoKSEncHex  = "979EC13B1CBFE9DCD01AB0FED307EAE5"
	icaoKSMacHex  = "F1CB1F1FB5ADF208806B89DC579DC1F8"
	icaoSSC       = uint64(0x887022120C06C226)
)

func specimenMRZ(t *testing.T) *MRZ {
	t.Helper()
	m, err := ParseMRZ(sampleLine1, sampleLine2)
	if err != nil {
		t.Fatalf("ParseMRZ returned error: %v", err)
	}
	return m
}

func TestEstablishBACICAOWorkedExample(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{
		{expect: "00A4040C07A0000002471001", reply: "9000"},
		{expect: "0084000008", reply: icaoRndICHex + "9000"},
		{
			expect: "008200002872C29C2371CC9BDB65B779B8E8D37B29ECC154AA56A8799FAE2F498F76ED92F25F1448EEA8AD90A728",
			reply:  "46B9342A41396CD7386BF5803104D7CEDC122B9132139BAF2EEDC94EE178534F2F2D235D074D74499000",
		},
	}}
	rnd := bytes.NewReader(append(mustHex(t, icaoRndIFDHex), mustHex(t, icaoKIFDHex)...))

	sess, err := EstablishBAC(card, specimenMRZ(t), &BACOptions{Rand: rnd})
	if err != nil {
		t.Fatalf("EstablishBAC returned error: %v", err)
	}
	card.done()

	if sess.Protocol() != ProtocolBAC {
		t.Fatalf("protocol = %s", sess.Protocol())
	}
	if !bytes.Equal(sess.kenc[:], mustHex(t, icaoKSEncHex)) {
		t.Fatalf("session kEnc = %X", sess.kenc)
	}
	if !bytes.Equal(sess.kmac[:], mustHex(t, icaoKSMacHex)) {
		t.Fatalf("session kMac = %X", sess.kmac)
	}
	if sess.SSC() != icaoSSC {
		t.Fatalf("SSC = %016X", sess.SSC())
	}
}

// bacChip implements the document side of the BAC handshake with the
// same primitives, so failure paths can be exercised with valid and
// selectively corrupted cryptograms.
type bacChip struct {
	t     *testing.T
	kenc  [16]byte
	kmac  [16]byte
	rndIC []byte
	kIC   []byte

	tamperMACBit  int  // >= 0 flips that bit of M_IC
	wrongEcho     bool // echo a corrupted RND.IFD under a valid MAC
	sessEnc       [16]byte
	sessMac       [16]byte
}

func newBACChip(t *testing.T, mrz *MRZ) *bacChip {
	t.Helper()
	kenc, kmac := DeriveBACKeys(mrz.Information())
	return &bacChip{
		t:            t,
		kenc:         kenc,
		kmac:         kmac,
		rndIC:        mustHex(t, icaoRndICHex),
		kIC:          mustHex(t, icaoKICHex),
		tamperMACBit: -1,
	}
}

func (c *bacChip) Transmit(apdu []byte) ([]byte, error) {
	c.t.Helper()
	switch apdu[1] {
	case 0xA4:
		return []byte{0x90, 0x00}, nil
	case 0x84:
		return append(append([]byte{}, c.rndIC...), 0x90, 0x00), nil
	case 0x82:
		return c.externalAuthenticate(apdu)
	}
	c.t.Fatalf("unexpected command %X", apdu)
	return nil, nil
}

func (c *bacChip) externalAuthenticate(apdu []byte) ([]byte, error) {
	cryptogram := apdu[5 : 5+40]
	eIFD, mIFD := cryptogram[:32], cryptogram[32:]

	mac, err := RetailMAC(c.kmac[:], eIFD)
	if err != nil || !bytes.Equal(mac, mIFD) {
		return []byte{0x69, 0x82}, nil
	}
	dec, err := des3CBCDecrypt(c.kenc[:], make([]byte, 8), eIFD)
	if err != nil {
		return []byte{0x69, 0x82}, nil
	}
	rndIFD, rndIC, kIFD := dec[:8], dec[8:16], dec[16:]
	if !bytes.Equal(rndIC, c.rndIC) {
		return []byte{0x69, 0x82}, nil
	}

	kSeed := xorBytes(kIFD, c.kIC)
	c.sessEnc = DeriveKey(kSeed, kdfEnc)
	c.sessMac = DeriveKey(kSeed, kdfMAC)

	echo := append([]byte{}, rndIFD...)
	if c.wrongEcho {
		echo[0] ^= 0x01
	}
	r := make([]byte, 0, 32)
	r = append(r, c.rndIC...)
	r = append(r, echo...)
	r = append(r, c.kIC...)
	eIC, err := des3CBCEncrypt(c.kenc[:], make([]byte, 8), r)
	if err != nil {
		c.t.Fatalf("chip encrypt: %v", err)
	}
	mIC, err := RetailMAC(c.kmac[:], eIC)
	if err != nil {
		c.t.Fatalf("chip mac: %v", err)
	}
	if c.tamperMACBit >= 0 {
		mIC[c.tamperMACBit/8] ^= 1 << (c.tamperMACBit % 8)
	}
	return append(append(append([]byte{}, eIC...), mIC...), 0x90, 0x00), nil
}

func TestEstablishBACAgainstSimulatedChip(t *testing.T) {
	mrz := specimenMRZ(t)
	chip := newBACChip(t, mrz)
	sess, err := EstablishBAC(chip, mrz, nil)
	if err != nil {
		t.Fatalf("EstablishBAC returned error: %v", err)
	}
	if !bytes.Equal(sess.kenc[:], chip.sessEnc[:]) || !bytes.Equal(sess.kmac[:], chip.sessMac[:]) {
		t.Fatal("terminal and chip derived different session keys")
	}
}

func TestEstablishBACWrongPasswordRejected(t *testing.T) {
	chip := newBACChip(t, specimenMRZ(t))
	wrong, err := NewMRZ("L898902C", "690806", "940624")
	if err != nil {
		t.Fatalf("NewMRZ returned error: %v", err)
	}
	_, err = EstablishBAC(chip, wrong, nil)
	kind, step, sw, ok := ClassifyHandshakeError(err)
	if !ok || kind != FailureMutualAuth {
		t.Fatalf("kind = %v (step %s, SW %04X)", kind, step, sw)
	}
}

func TestEstablishBACAnySingleBitMACTamperFails(t *testing.T) {
	mrz := specimenMRZ(t)
	for bit := 0; bit < 64; bit++ {
		chip := newBACChip(t, mrz)
		chip.tamperMACBit = bit
		_, err := EstablishBAC(chip, mrz, nil)
		kind, _, _, ok := ClassifyHandshakeError(err)
		if !ok || kind != FailureMACVerification {
			t.Fatalf("bit %d: expected MAC verification failure, got %v", bit, err)
		}
	}
}

func TestEstablishBACChallengeEchoMismatch(t *testing.T) {
	mrz := specimenMRZ(t)
	chip := newBACChip(t, mrz)
	chip.wrongEcho = true
	_, err := EstablishBAC(chip, mrz, nil)
	kind, _, _, ok := ClassifyHandshakeError(err)
	if !ok || kind != FailureChallengeMismatch {
		t.Fatalf("expected challenge mismatch, got %v", err)
	}
}

func TestEstablishBACProtocolMismatch(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{
		{reply: "9000"},
		{reply: "6A81"},
	}}
	_, err := EstablishBAC(card, specimenMRZ(t), nil)
	if !IsProtocolMismatch(err) {
		t.Fatalf("expected protocol mismatch, got %v", err)
	}
	_, _, sw, _ := ClassifyHandshakeError(err)
	if sw != SWFunctionNotSupported {
		t.Fatalf("SW = %04X", sw)
	}
}

func TestEstablishBACApplicationNotFound(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{{reply: "6A82"}}}
	_, err := EstablishBAC(card, specimenMRZ(t), nil)
	kind, _, sw, ok := ClassifyHandshakeError(err)
	if !ok || kind != FailureApplicationNotFound || sw != SWFileNotFound {
		t.Fatalf("expected application not found with SW 6A82, got %v", err)
	}
}

func TestEstablishBACTransportError(t *testing.T) {
	cause := fmt.Errorf("tag lost")
	card := &scriptCard{t: t, steps: []scriptStep{
		{reply: "9000"},
		{err: cause},
	}}
	_, err := EstablishBAC(card, specimenMRZ(t), nil)
	if !IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("transport cause must remain extractable")
	}
}
