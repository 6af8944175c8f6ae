// Package relay tunnels raw command/response APDUs between a provider
// (the device holding the physical document) and a consumer (the device
// presenting it to a scanner) through a pairing daemon. Payloads travel
// as hex-encoded byte strings in JSON envelopes over websockets; the
// daemon forwards them opaquely and never inspects APDU content.
package relay

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MessageType discriminates relay envelopes.
type MessageType string

const (
	// TypeSessionCreated is sent to a provider after it connects,
	// carrying the pairing token in Token.
	TypeSessionCreated MessageType = "session.created"
	// TypeSessionJoined is sent to both sides when a consumer joins.
	TypeSessionJoined MessageType = "session.joined"
	// TypePeerGone tells one side that the other disconnected.
	TypePeerGone MessageType = "peer.gone"
	// TypeCommand carries a command APDU from consumer to provider.
	TypeCommand MessageType = "apdu.command"
	// TypeResponse carries the response APDU back, with the command's
	// correlation id.
	TypeResponse MessageType = "apdu.response"
	// TypeError reports a failure instead of a response.
	TypeError MessageType = "error"
)

// Envelope is the single message format of the relay protocol. ID is a
// caller-chosen correlation identifier echoed on the response; Payload
// is an uppercase hex byte string.
type Envelope struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Token   string      `json:"token,omitempty"`
	Payload string      `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Command builds a command envelope for one APDU.
func Command(id string, apdu []byte) Envelope {
	return Envelope{Type: TypeCommand, ID: id, Payload: strings.ToUpper(hex.EncodeToString(apdu))}
}

// Response builds the response envelope for a served command.
func Response(id string, resp []byte) Envelope {
	return Envelope{Type: TypeResponse, ID: id, Payload: strings.ToUpper(hex.EncodeToString(resp))}
}

// PayloadBytes decodes the hex payload.
func (e *Envelope) PayloadBytes() ([]byte, error) {
	b, err := hex.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("bad envelope payload: %w", err)
	}
	return b, nil
}
