package sstv

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Config holds encoder and decoder settings
type Config struct {
	SampleRate int     `yaml:"sample_rate"`
	BitDepth   int     `yaml:"bit_depth"`
	Amplitude  float64 `yaml:"amplitude"` // fraction of full scale

	// Decoder timing, in line periods
	HeaderTimeoutLines int     `yaml:"header_timeout_lines"`
	SyncSearchLines    int     `yaml:"sync_search_lines"`
	MaxMissedLines     int     `yaml:"max_missed_lines"`
	MaxDrift           float64 `yaml:"max_drift"`      // max relative line period error
	SyncThreshold      float64 `yaml:"sync_threshold"` // minimum sync score

	DecodeFSKID bool   `yaml:"decode_fsk_id"`
	Callsign    string `yaml:"callsign"` // sent as FSK ID after the image when set

	Logger  *log.Logger `yaml:"-"`
	Metrics *Metrics    `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:         48000,
		BitDepth:           16,
		Amplitude:          0.8,
		HeaderTimeoutLines: 100,
		SyncSearchLines:    3,
		MaxMissedLines:     16,
		MaxDrift:           0.02,
		SyncThreshold:      0.4,
		DecodeFSKID:        true,
	}
}

// LoadConfig reads a YAML config file over the defaults
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over the defaults and validates the result
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.SampleRate < 8000:
		return fmt.Errorf("%w: sample_rate %d below 8000 Hz", ErrInvalidConfig, c.SampleRate)
	case c.BitDepth != 8 && c.BitDepth != 16:
		return fmt.Errorf("%w: bit_depth must be 8 or 16, got %d", ErrInvalidConfig, c.BitDepth)
	case c.Amplitude <= 0 || c.Amplitude > 1:
		return fmt.Errorf("%w: amplitude must be in (0, 1], got %g", ErrInvalidConfig, c.Amplitude)
	case c.HeaderTimeoutLines < 1:
		return fmt.Errorf("%w: header_timeout_lines must be positive", ErrInvalidConfig)
	case c.SyncSearchLines < 1:
		return fmt.Errorf("%w: sync_search_lines must be positive", ErrInvalidConfig)
	case c.MaxMissedLines < 1:
		return fmt.Errorf("%w: max_missed_lines must be positive", ErrInvalidConfig)
	case c.MaxDrift < 0 || c.MaxDrift >= 0.5:
		return fmt.Errorf("%w: max_drift must be in [0, 0.5), got %g", ErrInvalidConfig, c.MaxDrift)
	case c.SyncThreshold <= 0 || c.SyncThreshold >= 1:
		return fmt.Errorf("%w: sync_threshold must be in (0, 1), got %g", ErrInvalidConfig, c.SyncThreshold)
	}
	if err := validateCallsign(c.Callsign); err != nil {
		return fmt.Errorf("%w: callsign: %v", ErrInvalidConfig, err)
	}
	return nil
}

// logger returns the configured logger or the package default
func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger
}

var defaultLogger = log.WithPrefix("sstv")

func validateCallsign(s string) error {
	if len(s) > fskMaxChars {
		return fmt.Errorf("%q longer than %d characters", s, fskMaxChars)
	}
	for _, r := range strings.ToUpper(s) {
		if r < fskCharBase+fskMinValue || r >= fskCharBase+64 {
			return fmt.Errorf("%q contains unsupported character %q", s, r)
		}
	}
	return nil
}
