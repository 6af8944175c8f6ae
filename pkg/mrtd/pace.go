package mrtd

import (
	"bytes"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
)

// paceState tracks the progress of a PACE handshake.
type paceState int

const (
	paceIdle paceState = iota
	paceSelected
	paceProtocolNegotiated
	paceNonceObtained
	paceNonceMapped
	paceKeysAgreed
	paceAuthenticated
	paceFailed
)

func (s paceState) String() string {
	switch s {
	case paceIdle:
		return "Idle"
	case paceSelected:
		return "Selected"
	case paceProtocolNegotiated:
		return "ProtocolNegotiated"
	case paceNonceObtained:
		return "NonceObtained"
	case paceNonceMapped:
		return "NonceMapped"
	case paceKeysAgreed:
		return "KeysAgreed"
	case paceAuthenticated:
		return "Authenticated"
	default:
		return "Failed"
	}
}

// PACEOptions adjusts an individual handshake attempt.
type PACEOptions struct {
	// Candidates overrides the negotiation trial list. Nil means
	// DefaultPACECandidates.
	Candidates []PACEConfig
	// MixNonceIntoSeed folds the decrypted nonce into the session KDF
	// seed. Off by default: the session seed is the raw ECDH shared
	// secret alone. Some stacks mix the nonce in; documents expecting
	// that will fail mutual authentication unless this is enabled.
	MixNonceIntoSeed bool
	// SkipCardAccess disables the informational EF.CardAccess read.
	SkipCardAccess bool
	// Rand supplies the ephemeral key scalars. Nil means crypto/rand.
	Rand io.Reader
}

type paceHandshake struct {
	card  Card
	rand  io.Reader
	state paceState
}

// EstablishPACE runs the Password Authenticated Connection
// Establishment handshake against the document: generic-mapping ECDH
// keyed from the MRZ, with the cipher suite and curve negotiated by
// trial. On success it returns the authenticated Session (SSC starts
// at zero); on failure a *HandshakeError. The candidate trial loop is
// the only internal retry; every other failure aborts the attempt.
func EstablishPACE(card Card, mrz *MRZ, opts *PACEOptions) (*Session, error) {
	h := &paceHandshake{card: card, rand: rand.Reader, state: paceIdle}
	o := PACEOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Rand != nil {
		h.rand = o.Rand
	}
	return h.run(mrz, o)
}

func (h *paceHandshake) advance(s paceState) {
	h.state = s
	slog.Debug("pace state", "state", s.String())
}

// fail transitions to Failed for errors coming back from a command. A
// status-word rejection keeps the step's failure kind and records the
// SW; any other transmit error is a transport failure.
func (h *paceHandshake) fail(kind FailureKind, step string, err error) error {
	h.state = paceFailed
	var swe *SWError
	if errors.As(err, &swe) {
		return &HandshakeError{Kind: kind, Step: step, SW: swe.SW, Cause: err}
	}
	if err != nil {
		kind = FailureTransport
	}
	return &HandshakeError{Kind: kind, Step: step, Cause: err}
}

// failLocal transitions to Failed for failures detected locally
// (missing data objects, bad points, token mismatch). cause may be nil.
func (h *paceHandshake) failLocal(kind FailureKind, step string, cause error) error {
	h.state = paceFailed
	return &HandshakeError{Kind: kind, Step: step, Cause: cause}
}

func (h *paceHandshake) run(mrz *MRZ, opts PACEOptions) (*Session, error) {
	if err := SelectApplication(h.card); err != nil {
		return nil, h.fail(FailureApplicationNotFound, "select-application", err)
	}
	h.advance(paceSelected)

	if !opts.SkipCardAccess {
		if ca, err := ReadCardAccess(h.card); err != nil {
			slog.Debug("card access not readable", "error", err)
		} else {
			slog.Debug("card access", "data", strings.ToUpper(hex.EncodeToString(ca)))
		}
	}

	info := mrz.Information()
	password := DerivePACEKey(info)
	defer wipe(password[:])

	// Trial negotiation: one MSE:Set AT per candidate until the
	// document accepts. A transport failure aborts immediately; a
	// rejection moves on to the next candidate.
	candidates := opts.Candidates
	if candidates == nil {
		candidates = DefaultPACECandidates()
	}
	var cfg *PACEConfig
	for i := range candidates {
		c := &candidates[i]
		err := MSESetAT(h.card, c.OID, c.DomainParam)
		if err == nil {
			slog.Debug("pace configuration accepted", "candidate", c.Name)
			cfg = c
			break
		}
		var swe *SWError
		if !errors.As(err, &swe) {
			return nil, h.fail(FailureTransport, "mse-set-at", err)
		}
		slog.Debug("pace configuration rejected", "candidate", c.Name, "sw", fmt.Sprintf("%04X", swe.SW))
	}
	if cfg == nil {
		return nil, h.failLocal(FailureNoSupportedConfig, "mse-set-at", nil)
	}
	// Guard against operator-supplied candidates: the -192/-256 suites
	// cannot be served by the 128-bit key derivation, so an acceptance
	// must fail here, not later as a misleading token mismatch.
	if !bytes.Equal(cfg.OID, oidPACEECDHGMAES128) {
		return nil, h.failLocal(FailureNoSupportedConfig, "mse-set-at",
			fmt.Errorf("candidate %s accepted but only AES-128 suites are keyable", cfg.Name))
	}
	h.advance(paceProtocolNegotiated)

	// Encrypted nonce: General Authenticate with empty dynamic
	// authentication data, nonce ciphertext in data object 0x80.
	resp, err := GeneralAuthenticate(h.card, []byte{tagDynAuth, 0x00}, false)
	if err != nil {
		return nil, h.fail(FailureNonceMapping, "get-nonce", err)
	}
	encNonce, ok := findTLV(resp, 0x80)
	if !ok || len(encNonce) == 0 || len(encNonce)%16 != 0 {
		return nil, h.failLocal(FailureNonceMapping, "get-nonce", fmt.Errorf("bad nonce object (len=%d)", len(encNonce)))
	}
	nonce, err := aesCBCDecrypt(password[:], make([]byte, 16), encNonce)
	if err != nil {
		return nil, h.failLocal(FailureNonceMapping, "decrypt-nonce", err)
	}
	defer wipe(nonce)
	h.advance(paceNonceObtained)

	// Generic mapping: exchange ephemeral points, then remap the curve
	// generator with the nonce.
	curve := cfg.Curve
	skMap, mapX, mapY, err := elliptic.GenerateKey(curve, h.rand)
	if err != nil {
		return nil, h.fail(FailureNonceMapping, "map-nonce", err)
	}
	defer wipe(skMap)

	resp, err = GeneralAuthenticate(h.card, buildTLV(tagDynAuth, buildTLV(0x81, encodePoint(curve, mapX, mapY))), false)
	if err != nil {
		return nil, h.fail(FailureNonceMapping, "map-nonce", err)
	}
	chipMapRaw, ok := findTLV(resp, 0x82)
	if !ok {
		return nil, h.failLocal(FailureNonceMapping, "map-nonce", errors.New("mapping data object missing"))
	}
	chipMapX, chipMapY, err := decodePoint(curve, chipMapRaw)
	if err != nil {
		return nil, h.failLocal(FailureNonceMapping, "map-nonce", err)
	}

	sharedHX, sharedHY := curve.ScalarMult(chipMapX, chipMapY, skMap)
	nonceGX, nonceGY := curve.ScalarBaseMult(nonce)
	genX, genY := curve.Add(nonceGX, nonceGY, sharedHX, sharedHY)
	h.advance(paceNonceMapped)

	// Ephemeral key agreement on the mapped generator.
	sk2, _, _, err := elliptic.GenerateKey(curve, h.rand)
	if err != nil {
		return nil, h.fail(FailureKeyAgreement, "key-agreement", err)
	}
	defer wipe(sk2)
	pub2X, pub2Y := curve.ScalarMult(genX, genY, sk2)
	pub2 := encodePoint(curve, pub2X, pub2Y)

	resp, err = GeneralAuthenticate(h.card, buildTLV(tagDynAuth, buildTLV(0x83, pub2)), false)
	if err != nil {
		return nil, h.fail(FailureKeyAgreement, "key-agreement", err)
	}
	chipPub2Raw, ok := findTLV(resp, 0x84)
	if !ok {
		return nil, h.failLocal(FailureKeyAgreement, "key-agreement", errors.New("ephemeral key data object missing"))
	}
	chip2X, chip2Y, err := decodePoint(curve, chipPub2Raw)
	if err != nil {
		return nil, h.failLocal(FailureKeyAgreement, "key-agreement", err)
	}
	if chip2X.Cmp(pub2X) == 0 && chip2Y.Cmp(pub2Y) == 0 {
		return nil, h.failLocal(FailureKeyAgreement, "key-agreement", errors.New("document echoed our public point"))
	}

	sharedX, _ := curve.ScalarMult(chip2X, chip2Y, sk2)
	shared := make([]byte, coordinateSize(curve))
	sharedX.FillBytes(shared)
	defer wipe(shared)
	h.advance(paceKeysAgreed)

	// Session keys from the raw shared secret. The nonce is only mixed
	// in when explicitly requested (see PACEOptions).
	seed := shared
	if opts.MixNonceIntoSeed {
		seed = append(append([]byte{}, shared...), nonce...)
		defer wipe(seed)
	}
	kenc := DeriveKey(seed, kdfEnc)
	kmac := DeriveKey(seed, kdfMAC)

	// Mutual token exchange: each side proves key possession with a MAC
	// over the other side's public point.
	localToken, err := paceAuthToken(kmac[:], cfg.OID, encodePoint(curve, chip2X, chip2Y))
	if err != nil {
		return nil, h.failLocal(FailureMutualAuth, "mutual-auth", err)
	}
	resp, err = GeneralAuthenticate(h.card, buildTLV(tagDynAuth, buildTLV(0x85, localToken)), true)
	if err != nil {
		return nil, h.fail(FailureMutualAuth, "mutual-auth", err)
	}
	chipToken, ok := findTLV(resp, 0x86)
	if !ok || len(chipToken) < 8 {
		return nil, h.failLocal(FailureMutualAuth, "mutual-auth", errors.New("authentication token missing"))
	}
	expected, err := paceAuthToken(kmac[:], cfg.OID, pub2)
	if err != nil {
		return nil, h.failLocal(FailureMutualAuth, "mutual-auth", err)
	}
	if !bytes.Equal(chipToken[:8], expected) {
		return nil, h.failLocal(FailureMutualAuth, "mutual-auth", nil)
	}

	h.advance(paceAuthenticated)
	slog.Debug("pace session established",
		"suite", cfg.Name,
		"kenc", strings.ToUpper(hex.EncodeToString(kenc[:])),
		"kmac", strings.ToUpper(hex.EncodeToString(kmac[:])))

	return newSession(ProtocolPACE, kenc, kmac, 0), nil
}

// paceAuthToken computes the 8-byte mutual-authentication token:
// AES-CMAC under kmac over the suite OID followed by the peer's public
// point as data object 0x86.
func paceAuthToken(kmac, oid, point []byte) ([]byte, error) {
	input := make([]byte, 0, len(oid)+2+len(point))
	input = append(input, oid...)
	input = append(input, buildTLV(0x86, point)...)
	return aesCMACTrunc(kmac, input, 8)
}

func coordinateSize(curve elliptic.Curve) int {
	return (curve.Params().BitSize + 7) / 8
}

// encodePoint renders a point uncompressed: 0x04 || X || Y, both
// coordinates left-zero-padded to the curve coordinate size.
func encodePoint(curve elliptic.Curve, x, y *big.Int) []byte {
	size := coordinateSize(curve)
	out := make([]byte, 1+2*size)
	out[0] = 0x04
	x.FillBytes(out[1 : 1+size])
	y.FillBytes(out[1+size:])
	return out
}

// decodePoint parses an uncompressed point and rejects anything not on
// the curve.
func decodePoint(curve elliptic.Curve, data []byte) (x, y *big.Int, err error) {
	size := coordinateSize(curve)
	if len(data) != 1+2*size || data[0] != 0x04 {
		return nil, nil, fmt.Errorf("bad point encoding (len=%d)", len(data))
	}
	x = new(big.Int).SetBytes(data[1 : 1+size])
	y = new(big.Int).SetBytes(data[1+size:])
	if !curve.IsOnCurve(x, y) {
		return nil, nil, errors.New("point not on curve")
	}
	return x, y, nil
}
