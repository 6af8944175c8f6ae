package relay

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

// Hub pairs one provider websocket with one consumer websocket per
// token and forwards frames between them without touching payloads. A
// provider disconnect tears the pairing down; a consumer disconnect
// frees the slot so another scanner can join the same token.
type Hub struct {
	mu       sync.Mutex
	pairings map[string]*pairing
	upgrader websocket.Upgrader
}

// side serializes writes to one websocket: forwarded frames and hub
// notifications come from different goroutines.
type side struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *side) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *side) forward(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

type pairing struct {
	token    string
	provider *side
	consumer *side // nil until a consumer joins
}

// NewHub returns an empty pairing registry.
func NewHub() *Hub {
	return &Hub{pairings: make(map[string]*pairing)}
}

// Register mounts the two websocket endpoints on e.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/ws/provide", h.HandleProvide)
	e.GET("/ws/connect/:token", h.HandleConnect)
}

// HandleProvide upgrades a provider connection, issues its pairing
// token and forwards its frames to the joined consumer until it
// disconnects.
func (h *Hub) HandleProvide(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	token := ksuid.New().String()
	p := &pairing{token: token, provider: &side{conn: ws}}
	h.mu.Lock()
	h.pairings[token] = p
	h.mu.Unlock()

	if err := p.provider.writeJSON(Envelope{Type: TypeSessionCreated, Token: token}); err != nil {
		h.remove(token)
		return nil
	}
	slog.Info("provider connected", "token", token)

	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if consumer := h.consumerOf(token); consumer != nil {
			if err := consumer.forward(mt, msg); err != nil {
				slog.Debug("consumer write failed", "token", token, "error", err)
			}
		}
	}

	if consumer := h.consumerOf(token); consumer != nil {
		_ = consumer.writeJSON(Envelope{Type: TypePeerGone, Token: token})
		_ = consumer.conn.Close()
	}
	h.remove(token)
	slog.Info("provider disconnected", "token", token)
	return nil
}

// HandleConnect joins a consumer to an existing pairing by token and
// forwards its frames to the provider until either side disconnects.
func (h *Hub) HandleConnect(c echo.Context) error {
	token := c.Param("token")
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	consumer := &side{conn: ws}
	h.mu.Lock()
	p, ok := h.pairings[token]
	if !ok || p.consumer != nil {
		h.mu.Unlock()
		reason := "unknown token"
		if ok {
			reason = "token already in use"
		}
		_ = consumer.writeJSON(Envelope{Type: TypeError, Token: token, Error: reason})
		return nil
	}
	p.consumer = consumer
	h.mu.Unlock()

	joined := Envelope{Type: TypeSessionJoined, Token: token}
	_ = p.provider.writeJSON(joined)
	_ = consumer.writeJSON(joined)
	slog.Info("consumer joined", "token", token)

	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if err := p.provider.forward(mt, msg); err != nil {
			break
		}
	}

	h.mu.Lock()
	if current, ok := h.pairings[token]; ok && current.consumer == consumer {
		current.consumer = nil
		_ = current.provider.writeJSON(Envelope{Type: TypePeerGone, Token: token})
	}
	h.mu.Unlock()
	slog.Info("consumer left", "token", token)
	return nil
}

func (h *Hub) consumerOf(token string) *side {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pairings[token]; ok {
		return p.consumer
	}
	return nil
}

func (h *Hub) remove(token string) {
	h.mu.Lock()
	delete(h.pairings, token)
	h.mu.Unlock()
}

// endpointURL rewrites a relay base URL (http, https, ws or wss) into
// the websocket URL of one endpoint path.
func endpointURL(relayURL, path string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
