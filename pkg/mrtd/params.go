package mrtd

import (
	"crypto/elliptic"

	"github.com/spilikin/go-brainpool"
)

// PACE cipher suite OIDs, BSI TR-03110 id-PACE-ECDH-GM-AES-CBC-CMAC-*
// (0.4.0.127.0.7.2.2.4.2.x), DER-encoded content bytes. Only the -128
// suite is keyable: the password key and the session keys are derived
// at 128 bits, so the -192 and -256 ids never appear in the default
// trial list, and an accepted candidate carrying one is rejected
// before any key material is derived under a wrong-size key.
var (
	oidPACEECDHGMAES128 = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04, 0x02, 0x02}
	oidPACEECDHGMAES192 = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04, 0x02, 0x03}
	oidPACEECDHGMAES256 = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04, 0x02, 0x04}
)

// Standardized domain parameter ids, ICAO 9303 part 11. The wire
// encoding is generic over the curve, but the default trial list only
// offers the two 256-bit curves.
const (
	domainParamP256    byte = 0x0C // 12: NIST P-256
	domainParamBP256r1 byte = 0x0D // 13: brainpoolP256r1
	domainParamBP384r1 byte = 0x10 // 16: brainpoolP384r1
)

// PACEConfig names one negotiable cipher-suite/curve combination.
type PACEConfig struct {
	Name        string
	OID         []byte
	DomainParam byte
	Curve       elliptic.Curve
}

// DefaultPACECandidates returns the trial order for protocol
// negotiation, most-likely-first: European documents overwhelmingly use
// AES-128 over brainpoolP256r1. The engine sends one MSE:Set AT per
// entry until the document accepts; extend the table, not the control
// flow, to support further combinations. Only AES-128 suites are
// listed: the 128-bit key derivation cannot serve the -192/-256
// suites, and offering them would make a document commit to a suite
// this engine can never complete.
func DefaultPACECandidates() []PACEConfig {
	return []PACEConfig{
		{Name: "ECDH-GM-AES-CBC-CMAC-128/brainpoolP256r1", OID: oidPACEECDHGMAES128, DomainParam: domainParamBP256r1, Curve: brainpool.P256r1()},
		{Name: "ECDH-GM-AES-CBC-CMAC-128/P-256", OID: oidPACEECDHGMAES128, DomainParam: domainParamP256, Curve: elliptic.P256()},
	}
}
