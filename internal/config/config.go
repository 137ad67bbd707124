package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-valued fields after decoding.
const (
	DefaultTransferRefreshMS  = 500
	DefaultMaxAutoAcceptBytes = 20 << 20
	DefaultSearchLookupRPS    = 4
	DefaultHistoryPageSize    = 32
	DefaultLookupTimeoutMS    = 5000
)

// Config represents the global ~/.jamisync/config.toml.
type Config struct {
	DefaultProfile     string  `toml:"default_profile" yaml:"default_profile"`
	LogLevel           string  `toml:"log_level" yaml:"log_level"`
	MetricsAddr        string  `toml:"metrics_addr" yaml:"metrics_addr"`
	TransferRefreshMS  int     `toml:"transfer_refresh_ms" yaml:"transfer_refresh_ms"`
	MaxAutoAcceptBytes int64   `toml:"max_auto_accept_bytes" yaml:"max_auto_accept_bytes"`
	SearchLookupRPS    float64 `toml:"search_lookup_rps" yaml:"search_lookup_rps"`
	HistoryPageSize    int     `toml:"history_page_size" yaml:"history_page_size"`
	LookupTimeoutMS    int     `toml:"lookup_timeout_ms" yaml:"lookup_timeout_ms"`
	DarkMode           bool    `toml:"dark_mode" yaml:"dark_mode"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from the given path. Returns nil and error if the file is
// missing. Paths ending in .yaml or .yml are decoded as YAML, anything else as TOML.
func Load(path string) (*Config, error) {
	var cfg Config
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	var encErr error
	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		encErr = enc.Encode(cfg)
		if encErr == nil {
			encErr = enc.Close()
		}
	} else {
		encErr = toml.NewEncoder(f).Encode(cfg)
	}
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TransferRefreshMS <= 0 {
		c.TransferRefreshMS = DefaultTransferRefreshMS
	}
	if c.MaxAutoAcceptBytes <= 0 {
		c.MaxAutoAcceptBytes = DefaultMaxAutoAcceptBytes
	}
	if c.SearchLookupRPS <= 0 {
		c.SearchLookupRPS = DefaultSearchLookupRPS
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = DefaultHistoryPageSize
	}
	if c.LookupTimeoutMS <= 0 {
		c.LookupTimeoutMS = DefaultLookupTimeoutMS
	}
}

// TransferRefreshPeriod is the progress polling period for ongoing transfers.
func (c *Config) TransferRefreshPeriod() time.Duration {
	return time.Duration(c.TransferRefreshMS) * time.Millisecond
}

// LookupTimeout bounds a single daemon name lookup.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMS) * time.Millisecond
}

// MaxAutoAcceptSize returns the largest incoming file accepted without asking.
func (c *Config) MaxAutoAcceptSize() int64 { return c.MaxAutoAcceptBytes }

// DarkModeEnabled reports the dark mode preference.
func (c *Config) DarkModeEnabled() bool { return c.DarkMode }
