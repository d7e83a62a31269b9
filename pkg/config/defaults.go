package config

import "time"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Listen:              "/ip4/0.0.0.0/tcp/0",
			ServiceName:         "swapbytes-chat",
			RequestTimeout:      Duration{time.Minute},
			LookupTimeout:       Duration{30 * time.Second},
			MaintenanceInterval: Duration{time.Minute},
			LowWater:            50,
			HighWater:           200,
		},
		Chat: ChatConfig{
			DefaultRoom: "global",
		},
		Files: FilesConfig{
			ShareDir:    ".",
			DownloadDir: ".",
			MaxSize:     64 << 20, // 64 MiB
		},
		Log: LogConfig{
			File:  "swapbytes.log",
			Level: "info",
		},
	}
}
