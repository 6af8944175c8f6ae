// emulator presents a relayed travel document to a third-party
// scanner: it joins a relay pairing by token and bridges the remote
// card onto a local vpcd-style TCP listener, so a standard virtual
// smart card stack sees the document as if it were on a local reader.
package main

import (
	"encoding/hex"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Malamore1001/nfc-passport-relay/pkg/relay"
)

// Minimal T=0 ATR with "PASSPORT" as historical bytes; overridable for
// scanner stacks that fingerprint the ATR.
const defaultATR = "3B0850415353504F5254"

func main() {
	relayURL := flag.String("relay", "", "relay daemon URL (required)")
	token := flag.String("token", "", "pairing token from the reader side (required)")
	listen := flag.String("listen", "localhost:35963", "vpcd listen address")
	atrHex := flag.String("atr", defaultATR, "ATR presented to the scanner, hex")
	timeout := flag.Duration("timeout", 15*time.Second, "per-command relay timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	if *relayURL == "" || *token == "" {
		flag.Usage()
		log.Fatal("-relay and -token are required")
	}
	atr, err := hex.DecodeString(*atrHex)
	if err != nil || len(atr) == 0 {
		log.Fatalf("-atr must be non-empty hex: %v", err)
	}

	card, err := relay.Join(*relayURL, *token, *timeout)
	if err != nil {
		log.Fatalf("relay: %v", err)
	}
	defer card.Close()
	slog.Info("joined relay pairing", "token", *token)

	bridge := &vpcdBridge{listen: *listen, atr: atr, card: card}
	errCh := make(chan error, 1)
	go func() { errCh <- bridge.run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		slog.Info("interrupted")
	case err := <-errCh:
		if err != nil {
			log.Fatalf("vpcd bridge: %v", err)
		}
	}
}
