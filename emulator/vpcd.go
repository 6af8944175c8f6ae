package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/Malamore1001/nfc-passport-relay/pkg/mrtd"
)

// vpcd control frames: a 1-byte payload is a control command, anything
// longer is an APDU. Only get-ATR expects a response.
const (
	vpcdPowerOff = 0x00
	vpcdPowerOn  = 0x01
	vpcdReset    = 0x02
	vpcdGetATR   = 0x04
)

// vpcdBridge speaks the vpcd framing (2-byte big-endian length prefix)
// on a TCP listener and forwards APDUs to the relayed card. One client
// at a time makes sense for a card, but each accepted connection is
// still served on its own goroutine so a reconnecting scanner does not
// wedge the listener.
type vpcdBridge struct {
	listen string
	atr    []byte
	card   mrtd.Card
}

func (b *vpcdBridge) run() error {
	ln, err := net.Listen("tcp", b.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.listen, err)
	}
	defer ln.Close()
	slog.Info("vpcd bridge listening", "addr", b.listen)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go b.serve(conn)
	}
}

func (b *vpcdBridge) serve(conn net.Conn) {
	defer conn.Close()
	slog.Info("scanner connected", "remote", conn.RemoteAddr().String())
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				slog.Debug("scanner read failed", "error", err)
			}
			slog.Info("scanner disconnected", "remote", conn.RemoteAddr().String())
			return
		}
		if len(frame) == 1 {
			b.control(conn, frame[0])
			continue
		}
		slog.Debug("scanner command", "apdu", strings.ToUpper(hex.EncodeToString(frame)))
		resp, err := b.card.Transmit(frame)
		if err != nil {
			slog.Warn("relay transmit failed", "error", err)
			// Generic "no precise diagnosis" so the scanner gives up
			// on the command instead of hanging.
			resp = []byte{0x6F, 0x00}
		}
		slog.Debug("scanner response", "apdu", strings.ToUpper(hex.EncodeToString(resp)))
		if err := writeFrame(conn, resp); err != nil {
			slog.Debug("scanner write failed", "error", err)
			return
		}
	}
}

func (b *vpcdBridge) control(conn net.Conn, cmd byte) {
	switch cmd {
	case vpcdGetATR:
		if err := writeFrame(conn, b.atr); err != nil {
			slog.Debug("ATR write failed", "error", err)
		}
	case vpcdPowerOff, vpcdPowerOn, vpcdReset:
		slog.Debug("vpcd control", "cmd", cmd)
	default:
		slog.Debug("unknown vpcd control", "cmd", cmd)
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("frame too long (%d bytes)", len(payload))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
