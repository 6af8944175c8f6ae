package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

// RemoteCard exposes the provider's document as a transceive
// capability: every Transmit becomes a command envelope through the
// relay and blocks for the matching response. It implements mrtd.Card,
// so a scanner-side handshake can run against the remote chip
// unchanged. One in-flight command at a time, enforced with a mutex.
type RemoteCard struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

// Join connects to the relay as the consumer of an existing pairing.
// timeout bounds each Transmit round trip; zero means wait forever.
func Join(relayURL, token string, timeout time.Duration) (*RemoteCard, error) {
	endpoint, err := endpointURL(relayURL, "/ws/connect/"+token)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join pairing: %w", err)
	}
	if env.Type == TypeError {
		conn.Close()
		return nil, fmt.Errorf("relay rejected token: %s", env.Error)
	}
	if env.Type != TypeSessionJoined {
		conn.Close()
		return nil, fmt.Errorf("unexpected relay greeting %q", env.Type)
	}
	return &RemoteCard{conn: conn, timeout: timeout}, nil
}

// Transmit relays one APDU to the remote document and returns its
// response. Relay silence past the deadline, a dropped pairing and an
// error envelope all surface as transport errors.
func (r *RemoteCard) Transmit(apdu []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ksuid.New().String()
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return nil, fmt.Errorf("relay transport: %w", err)
		}
	}
	if err := r.conn.WriteJSON(Command(id, apdu)); err != nil {
		return nil, fmt.Errorf("relay transport: %w", err)
	}
	for {
		var env Envelope
		if err := r.conn.ReadJSON(&env); err != nil {
			return nil, fmt.Errorf("relay transport: %w", err)
		}
		switch env.Type {
		case TypeResponse:
			if env.ID != id {
				continue // stale response from an abandoned command
			}
			return env.PayloadBytes()
		case TypeError:
			if env.ID != "" && env.ID != id {
				continue
			}
			return nil, fmt.Errorf("relay transport: %s", env.Error)
		case TypePeerGone:
			return nil, fmt.Errorf("relay transport: document side disconnected")
		}
	}
}

// Close leaves the pairing; the provider sees peer.gone.
func (r *RemoteCard) Close() error {
	return r.conn.Close()
}
