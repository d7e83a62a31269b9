package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[network]
listen = "/ip4/127.0.0.1/tcp/4001"
lookup_timeout = "5s"
peers = ["/ip4/10.0.0.2/tcp/4001"]

[chat]
default_room = "lobby"

[files]
share_dir = "/srv/share"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/ip4/127.0.0.1/tcp/4001", cfg.Network.Listen)
	require.Equal(t, 5*time.Second, cfg.Network.LookupTimeout.Duration)
	require.Equal(t, time.Minute, cfg.Network.RequestTimeout.Duration)
	require.Len(t, cfg.Network.Peers, 1)
	require.Equal(t, "lobby", cfg.Chat.DefaultRoom)
	require.Equal(t, "/srv/share", cfg.Files.ShareDir)
	require.Equal(t, ".", cfg.Files.DownloadDir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadInput(t *testing.T) {
	_, err := Load(writeConfig(t, `[network]
lookup_timeout = "soon"`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `[network]
listen_addr = "/ip4/0.0.0.0/tcp/0"`))
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(Overrides{Listen: "/ip4/127.0.0.1/tcp/9000", Nickname: "alice", Verbose: true})

	require.Equal(t, "/ip4/127.0.0.1/tcp/9000", cfg.Network.Listen)
	require.Equal(t, "alice", cfg.Chat.Nickname)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "swapbytes.log", cfg.Log.File)

	cfg.Merge(Overrides{})
	require.Equal(t, "/ip4/127.0.0.1/tcp/9000", cfg.Network.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"listen", func(c *Config) { c.Network.Listen = "nonsense" }},
		{"peer", func(c *Config) { c.Network.Peers = []string{"nonsense"} }},
		{"service", func(c *Config) { c.Network.ServiceName = "" }},
		{"timeout", func(c *Config) { c.Network.RequestTimeout = Duration{} }},
		{"maintenance", func(c *Config) { c.Network.MaintenanceInterval = Duration{} }},
		{"water", func(c *Config) { c.Network.HighWater = 1 }},
		{"room", func(c *Config) { c.Chat.DefaultRoom = "" }},
		{"size", func(c *Config) { c.Files.MaxSize = -1 }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
