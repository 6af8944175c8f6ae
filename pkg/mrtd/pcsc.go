package mrtd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ebfe/scard"
)

// Connection wraps a PC/SC card connection. It implements Card, so a
// handshake can run directly against the document on the reader.
type Connection struct {
	ctx    *scard.Context
	Card   *scard.Card
	Reader string
}

// SelectReader resolves a reader by 0-based index, or by
// case-insensitive name substring when name is non-empty.
func SelectReader(ctx *scard.Context, index int, name string) (string, error) {
	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		return "", fmt.Errorf("no readers found: %v", err)
	}
	if name != "" {
		for _, r := range readers {
			if strings.Contains(strings.ToLower(r), strings.ToLower(name)) {
				return r, nil
			}
		}
		return "", fmt.Errorf("no reader matching %q (have %s)", name, strings.Join(readers, ", "))
	}
	if index < 0 || index >= len(readers) {
		return "", fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}
	return readers[index], nil
}

// Connect establishes a connection to the card already present on the
// selected reader. Index selects by position; a non-empty name wins
// and selects by substring match.
func Connect(index int, name string) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	reader, err := SelectReader(ctx, index, name)
	if err != nil {
		ctx.Release()
		return nil, err
	}
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	return &Connection{ctx: ctx, Card: card, Reader: reader}, nil
}

// WaitForCard blocks until a document is presented on the selected
// reader, then connects to it. A zero timeout waits forever.
func WaitForCard(index int, name string, timeout time.Duration) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	reader, err := SelectReader(ctx, index, name)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	for {
		if err := ctx.GetStatusChange(states, time.Second); err != nil && err != scard.ErrTimeout {
			ctx.Release()
			return nil, fmt.Errorf("GetStatusChange failed: %w", err)
		}
		states[0].CurrentState = states[0].EventState
		if states[0].EventState&scard.StatePresent != 0 {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			ctx.Release()
			return nil, fmt.Errorf("no document on reader %q after %s", reader, timeout)
		}
	}

	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	slog.Debug("document present", "reader", reader)
	return &Connection{ctx: ctx, Card: card, Reader: reader}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	if c.Card != nil {
		_ = c.Card.Disconnect(scard.LeaveCard)
	}
	if c.ctx != nil {
		_ = c.ctx.Release()
	}
}

// Transmit sends an APDU to the document (implements Card).
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.Card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	return c.Card.Transmit(apdu)
}
