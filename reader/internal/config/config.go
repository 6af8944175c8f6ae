// Package config loads the reader command's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Relay    string        `yaml:"relay"`
	Protocol string        `yaml:"protocol"`
	MRZ      MRZConfig     `yaml:"mrz"`
	Runtime  RuntimeConfig `yaml:"runtime"`
}

// MRZConfig supplies the document password material: either the two
// raw TD3 lines, or the three pre-split fields.
type MRZConfig struct {
	Line1          string `yaml:"line1"`
	Line2          string `yaml:"line2"`
	DocumentNumber string `yaml:"document_number"`
	BirthDate      string `yaml:"birth_date"`
	ExpiryDate     string `yaml:"expiry_date"`
}

type RuntimeConfig struct {
	ReaderIndex *int   `yaml:"reader_index"`
	ReaderName  string `yaml:"reader_name"`
	WaitSeconds *int   `yaml:"wait_seconds"`
	Probe       *bool  `yaml:"probe"`
}

// Load reads and validates a config file. Unknown keys are rejected so
// typos fail loudly.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Protocol {
	case "", "bac", "pace", "auto":
	default:
		return fmt.Errorf("config.protocol must be bac, pace or auto, got %q", c.Protocol)
	}
	if c.Relay != "" {
		u, err := url.Parse(c.Relay)
		if err != nil {
			return fmt.Errorf("config.relay is not a valid URL: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("config.relay must use http(s) or ws(s), got %q", u.Scheme)
		}
	}
	if c.Runtime.ReaderIndex != nil && *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	if c.Runtime.WaitSeconds != nil && *c.Runtime.WaitSeconds < 0 {
		return fmt.Errorf("config.runtime.wait_seconds must be >= 0")
	}
	return c.MRZ.validate()
}

func (m *MRZConfig) validate() error {
	hasLines := m.Line1 != "" || m.Line2 != ""
	hasFields := m.DocumentNumber != "" || m.BirthDate != "" || m.ExpiryDate != ""
	if hasLines && hasFields {
		return fmt.Errorf("config.mrz: give either line1/line2 or the split fields, not both")
	}
	if hasLines && (m.Line1 == "" || m.Line2 == "") {
		return fmt.Errorf("config.mrz: line1 and line2 must both be set")
	}
	if hasFields && (m.DocumentNumber == "" || m.BirthDate == "" || m.ExpiryDate == "") {
		return fmt.Errorf("config.mrz: document_number, birth_date and expiry_date must all be set")
	}
	return nil
}

// HasMRZ reports whether the config supplies password material at all;
// when it does not, the command line must.
func (c *Config) HasMRZ() bool {
	return c.MRZ.Line1 != "" || c.MRZ.DocumentNumber != ""
}

// Lines reports whether the MRZ comes as raw TD3 lines, returning them
// uppercased for parsing.
func (m *MRZConfig) Lines() (line1, line2 string, ok bool) {
	if m.Line1 == "" {
		return "", "", false
	}
	return strings.ToUpper(m.Line1), strings.ToUpper(m.Line2), true
}
