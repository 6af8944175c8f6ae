// reader holds the physical travel document: it waits for the chip on
// a PC/SC reader, establishes the secure channel from the MRZ (BAC,
// PACE, or BAC with PACE fallback) and then serves the card through
// the relay so a remote emulator can present it to a scanner.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Malamore1001/nfc-passport-relay/pkg/mrtd"
	"github.com/Malamore1001/nfc-passport-relay/pkg/relay"
	"github.com/Malamore1001/nfc-passport-relay/reader/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (flags override it)")
	readerIndex := flag.Int("reader", 0, "PC/SC reader index")
	readerName := flag.String("reader-name", "", "select reader by name substring instead of index")
	mrz1 := flag.String("mrz1", "", "TD3 MRZ line 1 (44 characters)")
	mrz2 := flag.String("mrz2", "", "TD3 MRZ line 2 (44 characters)")
	docNumber := flag.String("doc", "", "document number (alternative to -mrz1/-mrz2)")
	birthDate := flag.String("dob", "", "date of birth YYMMDD")
	expiryDate := flag.String("doe", "", "date of expiry YYMMDD")
	protocol := flag.String("protocol", "auto", "handshake protocol: bac, pace or auto")
	relayURL := flag.String("relay", "", "relay daemon URL; empty runs the handshake only")
	probe := flag.Bool("probe", false, "re-read EF.CardAccess under secure messaging after the handshake")
	wait := flag.Int("wait", 0, "seconds to wait for a document (0 waits forever)")
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

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}
	// Flags win over the config file.
	if !set["relay"] && cfg.Relay != "" {
		*relayURL = cfg.Relay
	}
	if !set["protocol"] && cfg.Protocol != "" {
		*protocol = cfg.Protocol
	}
	if !set["reader"] && cfg.Runtime.ReaderIndex != nil {
		*readerIndex = *cfg.Runtime.ReaderIndex
	}
	if !set["reader-name"] && cfg.Runtime.ReaderName != "" {
		*readerName = cfg.Runtime.ReaderName
	}
	if !set["wait"] && cfg.Runtime.WaitSeconds != nil {
		*wait = *cfg.Runtime.WaitSeconds
	}
	if !set["probe"] && cfg.Runtime.Probe != nil {
		*probe = *cfg.Runtime.Probe
	}

	mrz, err := resolveMRZ(cfg, *mrz1, *mrz2, *docNumber, *birthDate, *expiryDate)
	if err != nil {
		log.Fatalf("MRZ: %v", err)
	}
	switch *protocol {
	case "bac", "pace", "auto":
	default:
		log.Fatalf("-protocol must be bac, pace or auto, got %q", *protocol)
	}

	fmt.Println("Waiting for document...")
	conn, err := mrtd.WaitForCard(*readerIndex, *readerName, time.Duration(*wait)*time.Second)
	if err != nil {
		log.Fatalf("PC/SC: %v", err)
	}
	defer conn.Close()
	fmt.Printf("Reader:   %s\n", conn.Reader)

	sess, err := establish(conn, mrz, *protocol)
	if err != nil {
		kind, step, sw, ok := mrtd.ClassifyHandshakeError(err)
		if ok {
			log.Fatalf("handshake failed at %s: %s (SW=%04X)", step, kind, sw)
		}
		log.Fatalf("handshake failed: %v", err)
	}
	defer sess.Close()
	fmt.Printf("Session:  %s\n", sess)

	if *probe {
		sc := mrtd.NewSecureCard(conn, sess)
		if data, err := mrtd.ReadCardAccess(sc); err != nil {
			slog.Warn("secure messaging probe failed", "error", err)
		} else {
			fmt.Printf("Probe:    EF.CardAccess %d bytes under secure messaging\n", len(data))
		}
	}

	if *relayURL == "" {
		return
	}
	serveRelay(conn, *relayURL)
}

// establish runs the requested handshake; auto tries BAC first and
// falls back to PACE when the document turns out to be PACE-only.
func establish(card mrtd.Card, mrz *mrtd.MRZ, protocol string) (*mrtd.Session, error) {
	switch protocol {
	case "bac":
		return mrtd.EstablishBAC(card, mrz, nil)
	case "pace":
		return mrtd.EstablishPACE(card, mrz, nil)
	}
	sess, err := mrtd.EstablishBAC(card, mrz, nil)
	if mrtd.IsProtocolMismatch(err) {
		slog.Info("document is PACE-only, retrying with PACE")
		return mrtd.EstablishPACE(card, mrz, nil)
	}
	return sess, err
}

func resolveMRZ(cfg *config.Config, line1, line2, doc, dob, doe string) (*mrtd.MRZ, error) {
	switch {
	case line1 != "" || line2 != "":
		return mrtd.ParseMRZ(strings.ToUpper(line1), strings.ToUpper(line2))
	case doc != "":
		return mrtd.NewMRZ(strings.ToUpper(doc), dob, doe)
	case cfg.HasMRZ():
		if l1, l2, ok := cfg.MRZ.Lines(); ok {
			return mrtd.ParseMRZ(l1, l2)
		}
		return mrtd.NewMRZ(strings.ToUpper(cfg.MRZ.DocumentNumber), cfg.MRZ.BirthDate, cfg.MRZ.ExpiryDate)
	}
	return nil, fmt.Errorf("no MRZ given: use -mrz1/-mrz2, -doc/-dob/-doe or the config file")
}

// serveRelay provides the card to the relay and answers commands until
// the process is interrupted or the relay connection drops. The
// remote scanner runs its own handshake through the tunnel, so the
// card is served raw.
func serveRelay(card mrtd.Card, relayURL string) {
	provider, err := relay.Provide(relayURL)
	if err != nil {
		log.Fatalf("relay: %v", err)
	}
	defer provider.Close()
	fmt.Printf("Token:    %s\n", provider.Token())
	fmt.Println("Serving document through relay; interrupt to stop.")

	served := make(chan error, 1)
	go func() { served <- provider.Serve(card) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		fmt.Println("Interrupted.")
	case err := <-served:
		if err != nil {
			log.Fatalf("relay: %v", err)
		}
	}
}
