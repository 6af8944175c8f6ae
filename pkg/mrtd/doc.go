/*
Package mrtd establishes secure channels with electronic machine
readable travel documents (ICAO 9303 part 11 / BSI TR-03110), providing:
  - MRZ parsing and check-digit validation (TD3, two 44-character lines)
  - Key derivation (ICAO SHA-1 hash-and-counter KDF with parity adjustment)
  - Retail MAC (ISO 9797-1 Algorithm 3) and AES-CMAC primitives
  - Basic Access Control (3DES mutual challenge/response)
  - PACE (ECDH with generic mapping, negotiated cipher suite and curve)
  - Secure messaging over an established session (SecureCard)
  - PC/SC card connection wrapper

Every exchange goes through the Card interface: one synchronous
Transmit per command, one in-flight command at a time. Handshakes
return a *Session on success and a *HandshakeError on failure; the
error's Kind tells a wrong password from a PACE-only document from a
dead transport, so the caller owns the retry policy.

# MRZ-Information And Key Derivation

The 24-character MRZ-information string is

	documentNumber(9) || cd(1) || birthDate(6) || cd(1) || expiryDate(6) || cd(1)

with '<' padding kept verbatim. BAC seeds its long-term keys from the
first 16 bytes of SHA-1(MRZ-information); PACE uses the same 16 bytes
directly as the nonce-decryption key. The KDF is

	key = SHA-1(seed || counter(4, big-endian))[0:16], parity-adjusted

with counter 1 for kEnc and 2 for kMac, for long-term and session keys
alike. Parity adjustment forces the low bit of every byte so the byte
has an odd number of set bits.

# Operation: BAC (EstablishBAC)

	SELECT eMRTD applet        00 A4 04 0C 07 A0000002471001
	GET CHALLENGE              00 84 00 00 08            -> RND.IC(8)
	EXTERNAL AUTHENTICATE      00 82 00 00 28 E_IFD||M_IFD 28

	S      = RND.IFD(8) || RND.IC(8) || K.IFD(16)
	E_IFD  = 3DES-CBC(kEnc, IV=0, S)
	M_IFD  = RetailMAC(kMac, E_IFD)

The 40-byte response splits into E_IC(32) || M_IC(8). M_IC is verified
BEFORE E_IC is decrypted. The decryption must echo RND.IFD; the session
seed is K.IFD XOR K.IC and the send sequence counter starts as

	RND.IC[4:8] || RND.IFD[4:8]   (big-endian uint64)

Fail states:

	SW=6A81 on GET CHALLENGE   ProtocolMismatch: document is PACE-only, retry with PACE
	SW=6982 / 6300             wrong MRZ keys (MutualAuthenticationFailed)
	M_IC mismatch              MacVerificationFailed: tampering or wrong kMac
	RND.IFD echo mismatch      ChallengeMismatch

# Operation: PACE (EstablishPACE)

	MSE:Set AT                 00 22 C1 A4  80(OID) 83(01) 84(param-id)   per candidate
	General Authenticate 1     10 86 00 00  7C 00                         -> 7C[80 encrypted nonce]
	General Authenticate 2     10 86 00 00  7C[81 mapping point]          -> 7C[82 chip mapping point]
	General Authenticate 3     10 86 00 00  7C[83 ephemeral point]        -> 7C[84 chip ephemeral point]
	General Authenticate 4     00 86 00 00  7C[85 token]                  -> 7C[86 chip token]

The cipher suite and curve are negotiated by trial: one MSE:Set AT per
candidate table entry until the document accepts (the only internal
retry in this package). The nonce decrypts with AES-CBC under the PACE
password key; generic mapping moves the curve generator to

	G' = s*G + H,   s = nonce,  H = ECDH(mapping keys)

and the session seed is the x-coordinate of the second ECDH agreement.
Authentication tokens are AES-CMAC over OID || 86(peer point),
truncated to 8 bytes, each side MACing the other side's point. Points
travel uncompressed: 04 || X(32) || Y(32), coordinates zero-padded.

Fail states:

	all Set AT rejected        NoSupportedPaceConfiguration
	GA round rejected/garbled  NonceMappingFailed / KeyAgreementFailed per round
	token mismatch             MutualAuthenticationFailed: wrong MRZ or MITM

# Secure Messaging (SecureCard)

A Session wraps plain APDUs per ICAO 9303 part 11: CLA is masked to
0C, the data field becomes DO87 (padding indicator 01, cipher per the
session protocol: 3DES/retail MAC for BAC, AES-CBC/AES-CMAC with
IV=E(kEnc,SSC) for PACE), an expected length becomes DO97, DO8E holds
the checksum over SSC and the padded header plus data objects. The SSC
increments before wrapping a command and again before unwrapping its
response; the response checksum over DO87||DO99 is verified before
decryption. Any integrity failure wraps ErrSecureMessaging and kills
the session.

# Status Words

	SW=9000  success
	SW=6300  authentication failed (wrong MRZ keys)
	SW=6982  security status not satisfied
	SW=6A81  function not supported (PACE-only document answering BAC)
	SW=6A82  file or application not found
	SW=6A86  incorrect P1/P2 (offset beyond file)
	SW=6C00+xx  wrong Le, correct Le in low byte
*/
package mrtd
