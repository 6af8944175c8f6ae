package mrtd

import (
	"errors"
	"fmt"
)

// ISO 7816 status words returned by travel documents.
const (
	SWSuccess               = 0x9000 // ISO success
	SWAuthenticationFailed  = 0x6300 // Warning: authentication failed (wrong MRZ keys)
	SWWrongLength           = 0x6700 // Wrong length
	SWSecurityNotSatisfied  = 0x6982 // Security status not satisfied
	SWConditionsNotMet      = 0x6985 // Conditions of use not satisfied
	SWIncorrectData         = 0x6A80 // Incorrect parameters in the data field
	SWFunctionNotSupported  = 0x6A81 // Function not supported (PACE-only document answering BAC)
	SWFileNotFound          = 0x6A82 // File or application not found
	SWWrongP1P2             = 0x6A86 // Incorrect P1/P2 parameters
	SWReferenceDataNotFound = 0x6A88 // Referenced data not found
	SWWrongLe               = 0x6C00 // Wrong Le (mask: 0x6C00, correct Le in SW2)
)

// FailureKind classifies the externally observable handshake failures.
type FailureKind string

const (
	FailureApplicationNotFound FailureKind = "application_not_found"
	FailureProtocolMismatch    FailureKind = "protocol_mismatch"
	FailureNoSupportedConfig   FailureKind = "no_supported_pace_configuration"
	FailureChallengeMismatch   FailureKind = "challenge_mismatch"
	FailureMACVerification     FailureKind = "mac_verification_failed"
	FailureMutualAuth          FailureKind = "mutual_authentication_failed"
	FailureNonceMapping        FailureKind = "nonce_mapping_failed"
	FailureKeyAgreement        FailureKind = "key_agreement_failed"
	FailureTransport           FailureKind = "transport_error"
)

// SWError represents a non-success status word from the document.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

// swDescription returns a human-readable description of a status word.
func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWAuthenticationFailed:
		return "authentication failed"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWConditionsNotMet:
		return "conditions of use not satisfied"
	case SWIncorrectData:
		return "incorrect data field"
	case SWFunctionNotSupported:
		return "function not supported"
	case SWFileNotFound:
		return "file not found"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWReferenceDataNotFound:
		return "referenced data not found"
	default:
		if (sw & 0xFF00) == SWWrongLe {
			return fmt.Sprintf("wrong Le (correct Le=%d)", sw&0xFF)
		}
		return "unknown error"
	}
}

// HandshakeError is the typed failure produced by the BAC and PACE
// state machines. Kind identifies the failure class, Step the handshake
// step that produced it, SW the status word when the document rejected
// a command, Cause the underlying error when one exists.
type HandshakeError struct {
	Kind  FailureKind
	Step  string
	SW    uint16
	Cause error
}

func (e *HandshakeError) Error() string {
	if e == nil {
		return "handshake error"
	}
	msg := fmt.Sprintf("handshake %s failed: %s", e.Step, e.Kind)
	if e.SW != 0 {
		msg += fmt.Sprintf(" (SW=%04X)", e.SW)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyHandshakeError extracts details from a HandshakeError.
func ClassifyHandshakeError(err error) (kind FailureKind, step string, sw uint16, ok bool) {
	var hsErr *HandshakeError
	if errors.As(err, &hsErr) {
		return hsErr.Kind, hsErr.Step, hsErr.SW, true
	}
	return "", "", 0, false
}

// IsProtocolMismatch reports whether err means BAC was attempted
// against a PACE-only document, so the caller can retry with PACE.
func IsProtocolMismatch(err error) bool {
	kind, _, _, ok := ClassifyHandshakeError(err)
	return ok && kind == FailureProtocolMismatch
}

// IsTransportError reports whether err stems from the transport rather
// than the document (timeout, disconnect, malformed response length).
func IsTransportError(err error) bool {
	kind, _, _, ok := ClassifyHandshakeError(err)
	return ok && kind == FailureTransport
}
