package config

import "time"

// Config holds all application configuration
type Config struct {
	Network  NetworkConfig  `toml:"network"`
	Identity IdentityConfig `toml:"identity"`
	Chat     ChatConfig     `toml:"chat"`
	Files    FilesConfig    `toml:"files"`
	Log      LogConfig      `toml:"log"`
}

// NetworkConfig holds overlay settings
type NetworkConfig struct {
	Listen         string   `toml:"listen"`
	ServiceName    string   `toml:"service_name"`
	RequestTimeout Duration `toml:"request_timeout"`
	LookupTimeout  Duration `toml:"lookup_timeout"`
	LowWater       int      `toml:"low_water"`
	HighWater      int      `toml:"high_water"`

	// MaintenanceInterval paces redials of Peers and rendezvous lookups
	MaintenanceInterval Duration `toml:"maintenance_interval"`

	// Peers are kept dialled in addition to mDNS discovery
	Peers []string `toml:"peers"`
}

// IdentityConfig holds where the node key is kept. An empty data dir means
// a new identity on every start.
type IdentityConfig struct {
	DataDir string `toml:"data_dir"`
}

type ChatConfig struct {
	DefaultRoom string `toml:"default_room"`
	Nickname    string `toml:"nickname"`
}

// FilesConfig holds file transfer settings
type FilesConfig struct {
	ShareDir    string `toml:"share_dir"`
	DownloadDir string `toml:"download_dir"`
	MaxSize     int64  `toml:"max_size"`
}

type LogConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
