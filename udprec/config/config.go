// Package config loads and saves the udprec YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBind     = "0.0.0.0:8142"
	DefaultDatabase = "test/test.sqlite"
)

// Config holds every setting the udprec command reads from file.
// Addresses are "ip:port" strings; empty optional addresses are unset.
type Config struct {
	Bind         string        `yaml:"bind"`        // receiver bind address
	Destination  string        `yaml:"destination"` // sender target
	SourceBind   string        `yaml:"source_bind"` // sender local address; empty picks an ephemeral port
	Database     string        `yaml:"database"`
	Journal      bool          `yaml:"journal"`     // persist received records to the database
	StatusAddr   string        `yaml:"status_addr"` // HTTP status surface; empty disables it
	PollInterval time.Duration `yaml:"poll_interval"`
	Logging      Logging       `yaml:"logging"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Bind:         DefaultBind,
		Database:     DefaultDatabase,
		PollInterval: 100 * time.Millisecond,
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads the file at configPath over the defaults.
// Keys absent from the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveConfig writes config to configPath, creating parent directories as needed.
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every field, returning all problems found joined together.
func (c *Config) Validate() error {
	var errs []error
	if _, err := netip.ParseAddrPort(c.Bind); err != nil {
		errs = append(errs, fmt.Errorf("bind: %w", err))
	}
	for name, addr := range map[string]string{
		"destination": c.Destination,
		"source_bind": c.SourceBind,
		"status_addr": c.StatusAddr,
	} {
		if addr == "" {
			continue
		}
		if _, err := netip.ParseAddrPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive (got %v)", c.PollInterval))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DestinationAddr parses the sender target.
func (c *Config) DestinationAddr() (netip.AddrPort, error) {
	if c.Destination == "" {
		return netip.AddrPort{}, errors.New("no destination configured")
	}
	return netip.ParseAddrPort(c.Destination)
}
