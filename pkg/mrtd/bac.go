package mrtd

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// bacState tracks the progress of a BAC handshake.
type bacState int

const (
	bacIdle bacState = iota
	bacAppletSelected
	bacChallengeReceived
	bacMutualAuthSent
	bacAuthenticated
	bacFailed
)

func (s bacState) String() string {
	switch s {
	case bacIdle:
		return "Idle"
	case bacAppletSelected:
		return "AppletSelected"
	case bacChallengeReceived:
		return "ChallengeReceived"
	case bacMutualAuthSent:
		return "MutualAuthSent"
	case bacAuthenticated:
		return "Authenticated"
	default:
		return "Failed"
	}
}

// BACOptions adjusts an individual handshake attempt.
type BACOptions struct {
	// Rand supplies RND.IFD and K.IFD. Nil means crypto/rand.
	Rand io.Reader
}

type bacHandshake struct {
	card  Card
	rand  io.Reader
	state bacState
}

// EstablishBAC runs the Basic Access Control handshake against the
// document: mutual 3DES challenge/response authentication keyed from
// the MRZ. On success it returns the authenticated Session; on failure
// a *HandshakeError whose Kind distinguishes a wrong password, a
// PACE-only document, a tampered response and a dead transport. A
// failed attempt cannot be resumed; callers start over with a fresh
// challenge.
func EstablishBAC(card Card, mrz *MRZ, opts *BACOptions) (*Session, error) {
	h := &bacHandshake{card: card, rand: rand.Reader, state: bacIdle}
	if opts != nil && opts.Rand != nil {
		h.rand = opts.Rand
	}
	return h.run(mrz)
}

func (h *bacHandshake) advance(s bacState) {
	h.state = s
	slog.Debug("bac state", "state", s.String())
}

// fail transitions to Failed and builds the typed error. A status-word
// rejection keeps the step's failure kind and records the SW; any other
// error is a transport failure.
func (h *bacHandshake) fail(kind FailureKind, step string, err error) error {
	h.state = bacFailed
	var swe *SWError
	if errors.As(err, &swe) {
		return &HandshakeError{Kind: kind, Step: step, SW: swe.SW, Cause: err}
	}
	if err != nil {
		kind = FailureTransport
	}
	return &HandshakeError{Kind: kind, Step: step, Cause: err}
}

// failCrypto transitions to Failed for verification mismatches that
// carry no underlying error.
func (h *bacHandshake) failCrypto(kind FailureKind, step string) error {
	h.state = bacFailed
	return &HandshakeError{Kind: kind, Step: step}
}

func (h *bacHandshake) run(mrz *MRZ) (*Session, error) {
	info := mrz.Information()
	kenc, kmac := DeriveBACKeys(info)
	defer wipe(kenc[:])
	defer wipe(kmac[:])

	if err := SelectApplication(h.card); err != nil {
		return nil, h.fail(FailureApplicationNotFound, "select-application", err)
	}
	h.advance(bacAppletSelected)

	rndIC, err := GetChallenge(h.card)
	if err != nil {
		var swe *SWError
		if errors.As(err, &swe) && swe.SW == SWFunctionNotSupported {
			h.state = bacFailed
			return nil, &HandshakeError{Kind: FailureProtocolMismatch, Step: "get-challenge", SW: swe.SW, Cause: err}
		}
		return nil, h.fail(FailureMutualAuth, "get-challenge", err)
	}
	h.advance(bacChallengeReceived)

	rndIFD := make([]byte, 8)
	kIFD := make([]byte, 16)
	defer wipe(kIFD)
	if _, err := io.ReadFull(h.rand, rndIFD); err != nil {
		return nil, h.fail(FailureTransport, "generate-nonce", err)
	}
	if _, err := io.ReadFull(h.rand, kIFD); err != nil {
		return nil, h.fail(FailureTransport, "generate-nonce", err)
	}

	s := make([]byte, 0, 32)
	s = append(s, rndIFD...)
	s = append(s, rndIC...)
	s = append(s, kIFD...)
	defer wipe(s)

	eIFD, err := des3CBCEncrypt(kenc[:], make([]byte, 8), s)
	if err != nil {
		return nil, h.fail(FailureTransport, "build-cryptogram", err)
	}
	mIFD, err := RetailMAC(kmac[:], eIFD)
	if err != nil {
		return nil, h.fail(FailureTransport, "build-cryptogram", err)
	}

	cryptogram := append(eIFD, mIFD...)
	resp, err := ExternalAuthenticate(h.card, cryptogram)
	if err != nil {
		return nil, h.fail(FailureMutualAuth, "external-authenticate", err)
	}
	h.advance(bacMutualAuthSent)

	eIC, mIC := resp[:32], resp[32:40]
	expectedMAC, err := RetailMAC(kmac[:], eIC)
	if err != nil {
		return nil, h.fail(FailureTransport, "verify-mac", err)
	}
	if !bytes.Equal(expectedMAC, mIC) {
		return nil, h.failCrypto(FailureMACVerification, "verify-mac")
	}

	dec, err := des3CBCDecrypt(kenc[:], make([]byte, 8), eIC)
	if err != nil {
		return nil, h.fail(FailureTransport, "decrypt-cryptogram", err)
	}
	defer wipe(dec)

	rndIFDEcho := dec[8:16]
	kIC := dec[16:32]
	if !bytes.Equal(rndIFDEcho, rndIFD) {
		return nil, h.failCrypto(FailureChallengeMismatch, "verify-challenge")
	}

	kSeed := xorBytes(kIFD, kIC)
	defer wipe(kSeed)
	sessEnc := DeriveKey(kSeed, kdfEnc)
	sessMAC := DeriveKey(kSeed, kdfMAC)

	var sscBytes [8]byte
	copy(sscBytes[:4], rndIC[4:8])
	copy(sscBytes[4:], rndIFD[4:8])
	ssc := binary.BigEndian.Uint64(sscBytes[:])

	h.advance(bacAuthenticated)
	slog.Debug("bac session established",
		"kenc", strings.ToUpper(hex.EncodeToString(sessEnc[:])),
		"kmac", strings.ToUpper(hex.EncodeToString(sessMAC[:])),
		"ssc", strings.ToUpper(hex.EncodeToString(sscBytes[:])))

	return newSession(ProtocolBAC, sessEnc, sessMAC, ssc), nil
}
