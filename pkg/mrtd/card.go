package mrtd

import (
	"errors"
	"fmt"
)

// Card abstracts the transceive capability: send one command APDU,
// block until the response arrives. Implemented by the PC/SC
// connection, the relay remote card and test doubles. One in-flight
// call at a time.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Transmit sends an APDU to the document and extracts the status word.
// Returns (response_data, status_word, error).
// The response data does NOT include the trailing SW bytes.
func Transmit(card Card, apdu []byte) ([]byte, uint16, error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("short response: %d bytes", len(resp))
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// SwOK checks if a status word indicates success.
func SwOK(sw uint16) bool {
	return sw == SWSuccess
}

// eMRTD applet AID (ICAO 9303 part 10) and the EF.CardAccess file id.
var aidEMRTD = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

const fidCardAccess uint16 = 0x011C

// SelectApplication selects the eMRTD applet (AID A0000002471001).
func SelectApplication(card Card) error {
	apdu := append([]byte{0x00, 0xA4, 0x04, 0x0C, byte(len(aidEMRTD))}, aidEMRTD...)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0xA4, SW: sw}
	}
	return nil
}

// GetChallenge requests the 8-byte random challenge RND.IC.
func GetChallenge(card Card) ([]byte, error) {
	data, sw, err := Transmit(card, []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0x84, SW: sw}
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("challenge must be 8 bytes, got %d", len(data))
	}
	return data, nil
}

// ExternalAuthenticate sends the 40-byte BAC cryptogram E_IFD || M_IFD
// and returns the document's 40-byte E_IC || M_IC.
func ExternalAuthenticate(card Card, cryptogram []byte) ([]byte, error) {
	apdu := make([]byte, 0, 6+len(cryptogram))
	apdu = append(apdu, 0x00, 0x82, 0x00, 0x00, byte(len(cryptogram)))
	apdu = append(apdu, cryptogram...)
	apdu = append(apdu, 0x28)
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0x82, SW: sw}
	}
	if len(data) != 40 {
		return nil, fmt.Errorf("mutual-authenticate response must be 40 bytes, got %d", len(data))
	}
	return data, nil
}

// MSESetAT proposes a PACE cipher suite (OID) and standardized domain
// parameter id via Manage Security Environment: Set Authentication
// Template for mutual authentication.
func MSESetAT(card Card, oid []byte, domainParam byte) error {
	data := buildTLV(0x80, oid)
	data = append(data, buildTLV(0x83, []byte{0x01})...)
	data = append(data, buildTLV(0x84, []byte{domainParam})...)
	apdu := make([]byte, 0, 5+len(data))
	apdu = append(apdu, 0x00, 0x22, 0xC1, 0xA4, byte(len(data)))
	apdu = append(apdu, data...)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0x22, SW: sw}
	}
	return nil
}

// GeneralAuthenticate sends one dynamic-authentication round. All
// rounds except the last use command chaining (CLA 0x10). data is the
// 0x7C-wrapped dynamic authentication payload; the response payload is
// returned still wrapped.
func GeneralAuthenticate(card Card, data []byte, last bool) ([]byte, error) {
	cla := byte(0x10)
	if last {
		cla = 0x00
	}
	apdu := make([]byte, 0, 6+len(data))
	apdu = append(apdu, cla, 0x86, 0x00, 0x00, byte(len(data)))
	apdu = append(apdu, data...)
	apdu = append(apdu, 0x00)
	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0x86, SW: sw}
	}
	return resp, nil
}

// SelectFile selects an elementary file by its 16-bit id.
func SelectFile(card Card, fileID uint16) error {
	apdu := []byte{0x00, 0xA4, 0x02, 0x0C, 0x02, byte(fileID >> 8), byte(fileID)}
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0xA4, SW: sw}
	}
	return nil
}

// ReadBinary reads up to 255 bytes from the selected file at offset.
func ReadBinary(card Card, offset int, le byte) ([]byte, error) {
	apdu := []byte{0x00, 0xB0, byte(offset >> 8), byte(offset), le}
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		if (sw & 0xFF00) == SWWrongLe {
			return ReadBinary(card, offset, byte(sw))
		}
		return nil, &SWError{Cmd: 0xB0, SW: sw}
	}
	return data, nil
}

// ReadCardAccess selects and reads EF.CardAccess, the file advertising
// the document's PACE parameters. Informational: the negotiation loop
// does not depend on it.
func ReadCardAccess(card Card) ([]byte, error) {
	if err := SelectFile(card, fidCardAccess); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 64)
	offset := 0
	for {
		chunk, err := ReadBinary(card, offset, 0x00)
		if err != nil {
			var swe *SWError
			if len(out) > 0 && errors.As(err, &swe) && swe.SW == SWWrongP1P2 {
				break
			}
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
		offset += len(chunk)
		if len(chunk) < 0xFF {
			break
		}
	}
	return out, nil
}
