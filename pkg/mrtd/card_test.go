package mrtd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// scriptCard replays a fixed command/response script and fails the test
// on any deviation from the expected command sequence.
type scriptCard struct {
	t     *testing.T
	steps []scriptStep
	pos   int
}

type scriptStep struct {
	expect string // uppercase hex of the expected command, "" = any
	reply  string // uppercase hex of the response including SW
	err    error  // transport error instead of a reply
}

func (c *scriptCard) Transmit(apdu []byte) ([]byte, error) {
	c.t.Helper()
	if c.pos >= len(c.steps) {
		c.t.Fatalf("unexpected command %X after script end", apdu)
	}
	step := c.steps[c.pos]
	c.pos++
	if step.expect != "" && !strings.EqualFold(hex.EncodeToString(apdu), step.expect) {
		c.t.Fatalf("step %d: got command %X, want %s", c.pos, apdu, step.expect)
	}
	if step.err != nil {
		return nil, step.err
	}
	return mustHex(c.t, step.reply), nil
}

func (c *scriptCard) done() {
	c.t.Helper()
	if c.pos != len(c.steps) {
		c.t.Fatalf("script not exhausted: %d of %d steps used", c.pos, len(c.steps))
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestTransmitSplitsStatusWord(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{{reply: "011E9000"}}}
	data, sw, err := Transmit(card, []byte{0x00, 0xB0, 0x00, 0x00, 0x02})
	if err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	if sw != SWSuccess {
		t.Fatalf("expected SW 9000, got %04X", sw)
	}
	if !bytes.Equal(data, []byte{0x01, 0x1E}) {
		t.Fatalf("unexpected data %X", data)
	}
}

func TestTransmitRejectsShortResponse(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{{reply: "90"}}}
	if _, _, err := Transmit(card, []byte{0x00, 0x84, 0x00, 0x00, 0x08}); err == nil {
		t.Fatal("expected error on one-byte response")
	}
}

func TestTransmitPropagatesTransportError(t *testing.T) {
	cause := fmt.Errorf("reader gone")
	card := &scriptCard{t: t, steps: []scriptStep{{err: cause}}}
	_, _, err := Transmit(card, []byte{0x00, 0x84, 0x00, 0x00, 0x08})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestSelectApplicationSendsEMRTDAID(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{
		{expect: "00A4040C07A0000002471001", reply: "9000"},
	}}
	if err := SelectApplication(card); err != nil {
		t.Fatalf("SelectApplication returned error: %v", err)
	}
	card.done()
}

func TestGetChallengeLengthChecked(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{
		{expect: "0084000008", reply: "01029000"},
	}}
	if _, err := GetChallenge(card); err == nil {
		t.Fatal("expected error on 2-byte challenge")
	}
}

func TestReadCardAccessFollowsShortReads(t *testing.T) {
	card := &scriptCard{t: t, steps: []scriptStep{
		{expect: "00A4020C02011C", reply: "9000"},
		{expect: "00B0000000", reply: "31143012060A04007F0007020204020202010202010D9000"},
	}}
	data, err := ReadCardAccess(card)
	if err != nil {
		t.Fatalf("ReadCardAccess returned error: %v", err)
	}
	if len(data) != 22 {
		t.Fatalf("expected 22 bytes of card access data, got %d", len(data))
	}
	card.done()
}
