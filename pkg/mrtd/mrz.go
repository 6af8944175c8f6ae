package mrtd

import (
	"fmt"
	"log/slog"
	"strings"
)

// MRZ holds the parsed machine-readable zone of a TD3 travel document
// (two 44-character lines). Immutable once parsed.
type MRZ struct {
	DocumentNumber string // 9 characters, '<'-padded
	BirthDate      string // YYMMDD
	ExpiryDate     string // YYMMDD

	DocumentNumberCheck byte // decimal check digit as ASCII
	BirthDateCheck      byte
	ExpiryDateCheck     byte

	// Display fields, not used for key derivation.
	Surname      string
	GivenNames   string
	Nationality  string
	Sex          string
	IssuingState string
}

const td3LineLength = 44

// ParseMRZ parses the two TD3 lines of a machine-readable zone.
// Input must already be uppercase; lines of any other length are
// rejected. The check digits of the document number, birth date and
// expiry date must match their fields (they feed key derivation, so a
// mismatch guarantees a failed handshake); a composite check digit
// mismatch is only logged.
func ParseMRZ(line1, line2 string) (*MRZ, error) {
	if len(line1) != td3LineLength {
		return nil, fmt.Errorf("mrz line 1 must be %d characters, got %d", td3LineLength, len(line1))
	}
	if len(line2) != td3LineLength {
		return nil, fmt.Errorf("mrz line 2 must be %d characters, got %d", td3LineLength, len(line2))
	}
	for _, line := range []string{line1, line2} {
		for i := 0; i < len(line); i++ {
			if !isMRZChar(line[i]) {
				return nil, fmt.Errorf("mrz contains invalid character %q at position %d", line[i], i)
			}
		}
	}

	m := &MRZ{
		DocumentNumber:      line2[0:9],
		DocumentNumberCheck: line2[9],
		Nationality:         strings.Trim(line2[10:13], "<"),
		BirthDate:           line2[13:19],
		BirthDateCheck:      line2[19],
		Sex:                 line2[20:21],
		ExpiryDate:          line2[21:27],
		ExpiryDateCheck:     line2[27],
		IssuingState:        strings.Trim(line1[2:5], "<"),
	}
	m.Surname, m.GivenNames = parseNameField(line1[5:])

	for _, f := range []struct {
		name  string
		value string
		check byte
	}{
		{"document number", m.DocumentNumber, m.DocumentNumberCheck},
		{"birth date", m.BirthDate, m.BirthDateCheck},
		{"expiry date", m.ExpiryDate, m.ExpiryDateCheck},
	} {
		if got := CheckDigit(f.value); got != f.check {
			return nil, fmt.Errorf("mrz %s check digit mismatch: computed %c, line has %c", f.name, got, f.check)
		}
	}
	if !isDigits(m.BirthDate) || !isDigits(m.ExpiryDate) {
		return nil, fmt.Errorf("mrz dates must be numeric (birth %q, expiry %q)", m.BirthDate, m.ExpiryDate)
	}

	optional := line2[28:42]
	optionalCheck := line2[42]
	if got := CheckDigit(optional); got != optionalCheck && !(optionalCheck == '<' && got == '0') {
		slog.Warn("mrz optional data check digit mismatch", "computed", string(got), "line", string(optionalCheck))
	}
	composite := line2[0:10] + line2[13:20] + line2[21:43]
	if got := CheckDigit(composite); got != line2[43] {
		slog.Warn("mrz composite check digit mismatch", "computed", string(got), "line", string(line2[43]))
	}

	return m, nil
}

// NewMRZ builds a record from pre-parsed fields (manual entry), padding
// the document number to 9 characters and computing the check digits.
func NewMRZ(documentNumber, birthDate, expiryDate string) (*MRZ, error) {
	if len(documentNumber) == 0 || len(documentNumber) > 9 {
		return nil, fmt.Errorf("document number must be 1-9 characters, got %d", len(documentNumber))
	}
	if len(birthDate) != 6 || !isDigits(birthDate) {
		return nil, fmt.Errorf("birth date must be 6 digits (YYMMDD), got %q", birthDate)
	}
	if len(expiryDate) != 6 || !isDigits(expiryDate) {
		return nil, fmt.Errorf("expiry date must be 6 digits (YYMMDD), got %q", expiryDate)
	}
	padded := documentNumber + strings.Repeat("<", 9-len(documentNumber))
	for i := 0; i < len(padded); i++ {
		if !isMRZChar(padded[i]) {
			return nil, fmt.Errorf("document number contains invalid character %q", padded[i])
		}
	}
	return &MRZ{
		DocumentNumber:      padded,
		DocumentNumberCheck: CheckDigit(padded),
		BirthDate:           birthDate,
		BirthDateCheck:      CheckDigit(birthDate),
		ExpiryDate:          expiryDate,
		ExpiryDateCheck:     CheckDigit(expiryDate),
	}, nil
}

// Information returns the 24-character MRZ-information string used for
// key derivation: document number, birth date and expiry date, each
// followed by its check digit, padding included verbatim.
func (m *MRZ) Information() string {
	var b strings.Builder
	b.Grow(24)
	b.WriteString(m.DocumentNumber)
	b.WriteByte(m.DocumentNumberCheck)
	b.WriteString(m.BirthDate)
	b.WriteByte(m.BirthDateCheck)
	b.WriteString(m.ExpiryDate)
	b.WriteByte(m.ExpiryDateCheck)
	return b.String()
}

// CheckDigit computes the ICAO 9303 check digit over s: characters map
// to values (digits as themselves, A-Z to 10-35, '<' to 0), weighted
// 7,3,1 cyclically, summed mod 10. Returns the ASCII digit.
func CheckDigit(s string) byte {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += mrzCharValue(s[i]) * weights[i%3]
	}
	return byte('0' + sum%10)
}

func mrzCharValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 0
	}
}

func isMRZChar(c byte) bool {
	return c == '<' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseNameField splits the TD3 name field into surname and given
// names: the primary identifier ends at the first "<<", fillers inside
// either part read as spaces.
func parseNameField(field string) (surname, given string) {
	surname, given, _ = strings.Cut(field, "<<")
	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "<", " "))
	}
	return clean(surname), clean(given)
}
