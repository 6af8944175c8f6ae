package mrtd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Secure messaging data objects, ICAO 9303 part 11.
const (
	doCryptogram = 0x87 // padding-indicator byte then ciphertext
	doLe         = 0x97 // expected response length
	doStatus     = 0x99 // response status word
	doMAC        = 0x8E // 8-byte cryptographic checksum
)

// ErrSecureMessaging covers protected-response integrity failures: a
// missing status object, a missing or mismatched checksum, or malformed
// padding. The session must be discarded when it occurs.
var ErrSecureMessaging = errors.New("secure messaging integrity failure")

// blockSize returns the cipher block size of the session's suite:
// 3DES for BAC sessions, AES for PACE sessions.
func (s *Session) blockSize() int {
	if s.protocol == ProtocolPACE {
		return 16
	}
	return 8
}

// sscBlock renders the incremented-in-place counter at cipher width,
// big-endian, counter in the low-order bytes.
func (s *Session) sscBlock() []byte {
	b := make([]byte, s.blockSize())
	binary.BigEndian.PutUint64(b[len(b)-8:], s.ssc)
	return b
}

// cipherIV returns the IV for the current exchange: zero
// for 3DES sessions, E(kEnc, SSC) for AES sessions.
func (s *Session) cipherIV() ([]byte, error) {
	if s.protocol != ProtocolPACE {
		return make([]byte, 8), nil
	}
	return aesECBEncrypt(s.kenc[:], s.sscBlock())
}

func (s *Session) encrypt(data []byte) ([]byte, error) {
	iv, err := s.cipherIV()
	if err != nil {
		return nil, err
	}
	if s.protocol == ProtocolPACE {
		return aesCBCEncrypt(s.kenc[:], iv, data)
	}
	return des3CBCEncrypt(s.kenc[:], iv, data)
}

func (s *Session) decrypt(data []byte) ([]byte, error) {
	iv, err := s.cipherIV()
	if err != nil {
		return nil, err
	}
	if s.protocol == ProtocolPACE {
		return aesCBCDecrypt(s.kenc[:], iv, data)
	}
	return des3CBCDecrypt(s.kenc[:], iv, data)
}

// checksum computes the 8-byte cryptographic checksum over
// SSC || body, padded with ISO 9797-1 method 2: retail MAC for 3DES
// sessions (pads internally), truncated AES-CMAC over the padded input
// for AES sessions.
func (s *Session) checksum(body []byte) ([]byte, error) {
	input := append(s.sscBlock(), body...)
	if s.protocol == ProtocolPACE {
		return aesCMACTrunc(s.kmac[:], padISO9797M2(input, 16), 8)
	}
	return RetailMAC(s.kmac[:], input)
}

// WrapCommand protects a plain short-form APDU per ICAO 9303 part 11:
// the send sequence counter is incremented, the data field becomes a
// DO87 cryptogram, an expected length becomes DO97, and DO8E carries
// the checksum over the padded masked header and both objects.
func (s *Session) WrapCommand(apdu []byte) ([]byte, error) {
	if len(apdu) < 4 {
		return nil, fmt.Errorf("apdu too short (%d bytes)", len(apdu))
	}
	header, data, le, err := splitAPDU(apdu)
	if err != nil {
		return nil, err
	}

	s.ssc++
	bs := s.blockSize()
	masked := []byte{header[0] | 0x0C, header[1], header[2], header[3]}

	var do87 []byte
	if len(data) > 0 {
		enc, err := s.encrypt(padISO9797M2(data, bs))
		if err != nil {
			return nil, err
		}
		if 1+len(enc) > 255 {
			return nil, fmt.Errorf("data field too long for short-form secure messaging (%d bytes padded)", len(enc))
		}
		do87 = buildTLV(doCryptogram, append([]byte{0x01}, enc...))
	}
	var do97 []byte
	if le >= 0 {
		do97 = buildTLV(doLe, []byte{byte(le)})
	}

	body := append(padISO9797M2(masked, bs), do87...)
	body = append(body, do97...)
	cc, err := s.checksum(body)
	if err != nil {
		return nil, err
	}
	do8e := buildTLV(doMAC, cc)

	lc := len(do87) + len(do97) + len(do8e)
	if lc > 255 {
		return nil, fmt.Errorf("protected body too long for short-form secure messaging (%d bytes)", lc)
	}
	out := make([]byte, 0, 4+1+lc+1)
	out = append(out, masked...)
	out = append(out, byte(lc))
	out = append(out, do87...)
	out = append(out, do97...)
	out = append(out, do8e...)
	out = append(out, 0x00)
	return out, nil
}

// UnwrapResponse verifies and decrypts a protected response. The
// checksum over DO87 and DO99 is verified BEFORE the cryptogram is
// decrypted; any integrity failure wraps ErrSecureMessaging. The
// return value is the plain response data with the DO99 status word
// re-appended, matching what an unprotected card would have sent.
func (s *Session) UnwrapResponse(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: response too short (%d bytes)", ErrSecureMessaging, len(resp))
	}
	body := resp[:len(resp)-2]
	s.ssc++

	var do87Raw, do99Raw, status, cryptogram, cc []byte
	rest := body
	for len(rest) >= 2 {
		tag, l := rest[0], int(rest[1])
		if len(rest) < 2+l {
			return nil, fmt.Errorf("%w: truncated data object %02X", ErrSecureMessaging, tag)
		}
		raw, value := rest[:2+l], rest[2:2+l]
		switch tag {
		case doCryptogram:
			do87Raw, cryptogram = raw, value
		case doStatus:
			do99Raw, status = raw, value
		case doMAC:
			cc = value
		}
		rest = rest[2+l:]
	}
	if len(status) != 2 {
		return nil, fmt.Errorf("%w: status data object missing", ErrSecureMessaging)
	}
	if len(cc) != 8 {
		return nil, fmt.Errorf("%w: checksum data object missing", ErrSecureMessaging)
	}

	expected, err := s.checksum(append(append([]byte{}, do87Raw...), do99Raw...))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(cc, expected) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrSecureMessaging)
	}

	var plain []byte
	if len(cryptogram) > 0 {
		if cryptogram[0] != 0x01 {
			return nil, fmt.Errorf("%w: unsupported padding indicator %02X", ErrSecureMessaging, cryptogram[0])
		}
		dec, err := s.decrypt(cryptogram[1:])
		if err != nil {
			return nil, err
		}
		plain, err = unpadISO9797M2(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSecureMessaging, err)
		}
	}
	return append(plain, status...), nil
}

// splitAPDU dissects a plain short-form APDU into header, data field
// and expected length (-1 when absent). Extended length is not used by
// any command this engine issues or relays during a session.
func splitAPDU(apdu []byte) (header, data []byte, le int, err error) {
	header = apdu[:4]
	rest := apdu[4:]
	switch {
	case len(rest) == 0: // case 1
		return header, nil, -1, nil
	case len(rest) == 1: // case 2
		return header, nil, int(rest[0]), nil
	}
	lc := int(rest[0])
	switch {
	case len(rest) == 1+lc: // case 3
		return header, rest[1 : 1+lc], -1, nil
	case len(rest) == 1+lc+1: // case 4
		return header, rest[1 : 1+lc], int(rest[1+lc]), nil
	}
	return nil, nil, 0, fmt.Errorf("malformed apdu (lc=%d, %d bytes after header)", lc, len(rest))
}

// SecureCard protects all traffic of an inner card under an
// established session, so post-handshake commands can be issued (or
// relayed) without the caller knowing about secure messaging. The
// session is owned by the SecureCard for its lifetime; one in-flight
// command at a time, as with any Card.
type SecureCard struct {
	card Card
	sess *Session
}

// NewSecureCard wraps card so every Transmit is protected under sess.
func NewSecureCard(card Card, sess *Session) *SecureCard {
	return &SecureCard{card: card, sess: sess}
}

// Transmit wraps the plain APDU, exchanges it over the inner card and
// unwraps the protected response. The caller sees plain data plus the
// status word, exactly as with an unprotected card.
func (sc *SecureCard) Transmit(apdu []byte) ([]byte, error) {
	wrapped, err := sc.sess.WrapCommand(apdu)
	if err != nil {
		return nil, err
	}
	resp, err := sc.card.Transmit(wrapped)
	if err != nil {
		return nil, err
	}
	return sc.sess.UnwrapResponse(resp)
}
