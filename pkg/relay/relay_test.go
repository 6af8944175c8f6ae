package relay

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// echoCard responds to every APDU with the command bytes reversed plus
// a success status, so the test can check payloads round-trip intact.
type echoCard struct{ calls int }

func (c *echoCard) Transmit(apdu []byte) ([]byte, error) {
	c.calls++
	out := make([]byte, 0, len(apdu)+2)
	for i := len(apdu) - 1; i >= 0; i-- {
		out = append(out, apdu[i])
	}
	return append(out, 0x90, 0x00), nil
}

func newTestDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	e := echo.New()
	NewHub().Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestRelayEndToEnd(t *testing.T) {
	srv := newTestDaemon(t)

	card := &echoCard{}
	provider, err := Provide(srv.URL)
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}
	defer provider.Close()
	if provider.Token() == "" {
		t.Fatal("provider must receive a pairing token")
	}
	go provider.Serve(card)

	remote, err := Join(srv.URL, provider.Token(), 5*time.Second)
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	defer remote.Close()

	apdu := []byte{0x00, 0xA4, 0x04, 0x0C}
	resp, err := remote.Transmit(apdu)
	if err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	want := []byte{0x0C, 0x04, 0xA4, 0x00, 0x90, 0x00}
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = %X, want %X", resp, want)
	}

	// Second exchange over the same pairing.
	if _, err := remote.Transmit([]byte{0x00, 0x84, 0x00, 0x00, 0x08}); err != nil {
		t.Fatalf("second Transmit returned error: %v", err)
	}
	if card.calls != 2 {
		t.Fatalf("card saw %d commands", card.calls)
	}
}

func TestJoinUnknownTokenRejected(t *testing.T) {
	srv := newTestDaemon(t)
	if _, err := Join(srv.URL, "no-such-token", time.Second); err == nil {
		t.Fatal("expected error joining an unknown token")
	}
}

func TestTransmitDeadlineIsTransportError(t *testing.T) {
	srv := newTestDaemon(t)

	provider, err := Provide(srv.URL)
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}
	defer provider.Close()
	// The provider never serves, so commands go unanswered.

	remote, err := Join(srv.URL, provider.Token(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	defer remote.Close()

	if _, err := remote.Transmit([]byte{0x00, 0x84, 0x00, 0x00, 0x08}); err == nil {
		t.Fatal("expected deadline error from silent relay")
	}
}

func TestProviderSeesPeerGone(t *testing.T) {
	srv := newTestDaemon(t)

	provider, err := Provide(srv.URL)
	if err != nil {
		t.Fatalf("Provide returned error: %v", err)
	}
	defer provider.Close()
	served := make(chan error, 1)
	go func() { served <- provider.Serve(&echoCard{}) }()

	remote, err := Join(srv.URL, provider.Token(), time.Second)
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	remote.Close()

	// The provider keeps serving after the consumer leaves so a new
	// scanner can join the same token.
	select {
	case err := <-served:
		t.Fatalf("Serve returned early: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	remote2, err := Join(srv.URL, provider.Token(), time.Second)
	if err != nil {
		t.Fatalf("rejoin returned error: %v", err)
	}
	defer remote2.Close()
	if _, err := remote2.Transmit([]byte{0x00, 0xB0, 0x00, 0x00, 0x02}); err != nil {
		t.Fatalf("Transmit after rejoin returned error: %v", err)
	}
}

func TestEndpointURLSchemes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://relay.local:8700", "ws://relay.local:8700/ws/provide"},
		{"https://relay.local", "wss://relay.local/ws/provide"},
		{"ws://relay.local/", "ws://relay.local/ws/provide"},
	}
	for _, tc := range cases {
		got, err := endpointURL(tc.in, "/ws/provide")
		if err != nil {
			t.Fatalf("endpointURL(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("endpointURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := endpointURL("ftp://relay.local", "/ws/provide"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
