package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap/zapcore"
)

const ConfigFileName = "swapbytes.toml"

// Load reads a TOML file over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Overrides are command-line values; zero values leave the config alone.
type Overrides struct {
	Listen   string
	Nickname string
	DataDir  string
	LogFile  string
	Verbose  bool
	Peers    []string
}

// Merge merges command-line flags into configuration
// Flags take precedence over config file values
func (c *Config) Merge(o Overrides) {
	if o.Listen != "" {
		c.Network.Listen = o.Listen
	}
	if o.Nickname != "" {
		c.Chat.Nickname = o.Nickname
	}
	if o.DataDir != "" {
		c.Identity.DataDir = o.DataDir
	}
	if o.LogFile != "" {
		c.Log.File = o.LogFile
	}
	if o.Verbose {
		c.Log.Level = "debug"
	}
	c.Network.Peers = append(c.Network.Peers, o.Peers...)
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if _, err := multiaddr.NewMultiaddr(c.Network.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Network.Listen, err)
	}
	for _, p := range c.Network.Peers {
		if _, err := multiaddr.NewMultiaddr(p); err != nil {
			return fmt.Errorf("invalid peer address %q: %w", p, err)
		}
	}
	if c.Network.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.Network.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("invalid request timeout: %v (must be positive)", c.Network.RequestTimeout)
	}
	if c.Network.LookupTimeout.Duration <= 0 {
		return fmt.Errorf("invalid lookup timeout: %v (must be positive)", c.Network.LookupTimeout)
	}
	if c.Network.MaintenanceInterval.Duration <= 0 {
		return fmt.Errorf("invalid maintenance interval: %v (must be positive)", c.Network.MaintenanceInterval)
	}
	if c.Network.LowWater < 1 || c.Network.HighWater < c.Network.LowWater {
		return fmt.Errorf("invalid connection limits: low %d, high %d", c.Network.LowWater, c.Network.HighWater)
	}
	if c.Chat.DefaultRoom == "" {
		return fmt.Errorf("default room cannot be empty")
	}
	if c.Files.MaxSize < 0 {
		return fmt.Errorf("invalid max file size: %d", c.Files.MaxSize)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}
