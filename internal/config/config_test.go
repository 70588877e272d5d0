package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":5000", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.Heartbeat.Duration)
	assert.Equal(t, 90*time.Second, cfg.Server.HeartbeatGrace.Duration)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Client.ServerURL)
	assert.Equal(t, "burrowspace/transfers", cfg.Transfer.NotifyTopic)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
listenAddr = ":8080"
heartbeat = "10s"
heartbeatGrace = "45s"

[client]
serverURL = "https://relay.example.com"

[transfer]
chunkSize = 65536
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.Heartbeat.Duration)
	assert.Equal(t, 45*time.Second, cfg.Server.HeartbeatGrace.Duration)
	assert.Equal(t, "https://relay.example.com", cfg.Client.ServerURL)
	assert.Equal(t, 65536, cfg.Transfer.ChunkSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, "http://127.0.0.1:5001", cfg.Gateway.BaseURL)
	assert.Equal(t, "burrowspace", cfg.Session.MDNSTag)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[server`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
heartbeat = "not a duration"
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestMergeFlagPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(":9999", "http://gw:5001", "http://relay:5000", 2)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "http://gw:5001", cfg.Gateway.BaseURL)
	assert.Equal(t, "http://relay:5000", cfg.Client.ServerURL)
	assert.Equal(t, 2, cfg.Behavior.Verbosity)
}

func TestMergeEmptyFlagsKeepConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Behavior.Verbosity = 1
	cfg.Merge("", "", "", 0)
	assert.Equal(t, DefaultConfig().Server.ListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, 1, cfg.Behavior.Verbosity)
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddr = "" }},
		{"non-positive upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"non-positive heartbeat", func(c *Config) { c.Server.Heartbeat.Duration = 0 }},
		{"grace below heartbeat", func(c *Config) { c.Server.HeartbeatGrace.Duration = time.Second }},
		{"empty server URL", func(c *Config) { c.Client.ServerURL = "" }},
		{"empty gateway URL", func(c *Config) { c.Gateway.BaseURL = "" }},
		{"tiny chunk size", func(c *Config) { c.Transfer.ChunkSize = 512 }},
		{"no session listen addrs", func(c *Config) { c.Session.ListenAddrs = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{90 * time.Second}
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, d.Duration, parsed.Duration)
}
