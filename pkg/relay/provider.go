package relay

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Malamore1001/nfc-passport-relay/pkg/mrtd"
)

// Provider serves a local card through the relay: it holds the
// provider side of a pairing and answers command envelopes against the
// document on this machine.
type Provider struct {
	conn  *websocket.Conn
	token string
	mu    sync.Mutex // serializes writes
}

// Provide connects to the relay daemon and waits for the pairing
// token. The returned provider is not serving yet; hand its Token to
// the consumer side, then call Serve.
func Provide(relayURL string) (*Provider, error) {
	endpoint, err := endpointURL(relayURL, "/ws/provide")
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
		return nil, fmt.Errorf("read pairing token: %w", err)
	}
	if env.Type != TypeSessionCreated || env.Token == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected relay greeting %q", env.Type)
	}
	return &Provider{conn: conn, token: env.Token}, nil
}

// Token returns the pairing token the consumer must join with.
func (p *Provider) Token() string {
	return p.token
}

// Serve answers command envelopes against card until the relay
// connection drops. Consumer comings and goings are logged; a card
// transmit failure is reported to the consumer as an error envelope
// and serving continues, so a transient tag loss does not kill the
// pairing.
func (p *Provider) Serve(card mrtd.Card) error {
	for {
		var env Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay connection: %w", err)
		}
		switch env.Type {
		case TypeSessionJoined:
			slog.Info("scanner connected", "token", p.token)
		case TypePeerGone:
			slog.Info("scanner disconnected", "token", p.token)
		case TypeCommand:
			apdu, err := env.PayloadBytes()
			if err != nil {
				p.write(Envelope{Type: TypeError, ID: env.ID, Error: err.Error()})
				continue
			}
			slog.Debug("relayed command", "id", env.ID, "apdu", strings.ToUpper(hex.EncodeToString(apdu)))
			resp, err := card.Transmit(apdu)
			if err != nil {
				slog.Warn("card transmit failed", "id", env.ID, "error", err)
				p.write(Envelope{Type: TypeError, ID: env.ID, Error: err.Error()})
				continue
			}
			slog.Debug("relayed response", "id", env.ID, "apdu", strings.ToUpper(hex.EncodeToString(resp)))
			p.write(Response(env.ID, resp))
		default:
			slog.Debug("ignoring envelope", "type", env.Type)
		}
	}
}

func (p *Provider) write(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.WriteJSON(env); err != nil {
		slog.Debug("relay write failed", "error", err)
	}
}

// Close drops the relay connection; a joined consumer sees peer.gone.
func (p *Provider) Close() error {
	return p.conn.Close()
}
