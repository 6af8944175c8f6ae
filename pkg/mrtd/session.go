package mrtd

import "fmt"

// Protocol identifies which handshake produced a Session and selects
// the secure-messaging cipher suite.
type Protocol string

const (
	ProtocolBAC  Protocol = "BAC"
	ProtocolPACE Protocol = "PACE"
)

// Session holds the symmetric keys and send sequence counter negotiated
// by a successful handshake. It is owned by the caller of the
// handshake; exactly one Session may be active per connection, and a
// new handshake invalidates the prior one.
type Session struct {
	kenc     [16]byte
	kmac     [16]byte
	ssc      uint64
	protocol Protocol
}

func newSession(protocol Protocol, kenc, kmac [16]byte, ssc uint64) *Session {
	return &Session{kenc: kenc, kmac: kmac, ssc: ssc, protocol: protocol}
}

// Protocol reports the handshake that produced the session.
func (s *Session) Protocol() Protocol {
	return s.protocol
}

// SSC returns the current send sequence counter.
func (s *Session) SSC() uint64 {
	return s.ssc
}

// Close wipes the session keys. The session must not be used after.
func (s *Session) Close() {
	if s == nil {
		return
	}
	wipe(s.kenc[:])
	wipe(s.kmac[:])
	s.ssc = 0
}

// String renders the session without exposing key material.
func (s *Session) String() string {
	if s == nil {
		return "<no session>"
	}
	return fmt.Sprintf("%s session (ssc=%016X)", s.protocol, s.ssc)
}
