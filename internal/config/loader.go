package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const ConfigFileName = "burrow.toml"

// Load reads configuration from the given path, falling back to defaults
// when the file does not exist. An empty path means "burrow.toml in the
// working directory".
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigFileName
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Merge merges command-line flags into configuration.
// Flags take precedence over config file values.
func (c *Config) Merge(listenAddr, gatewayURL, serverURL string, verbosity int) {
	if listenAddr != "" {
		c.Server.ListenAddr = listenAddr
	}
	if gatewayURL != "" {
		c.Gateway.BaseURL = gatewayURL
	}
	if serverURL != "" {
		c.Client.ServerURL = serverURL
	}
	if verbosity > 0 {
		c.Behavior.Verbosity = verbosity
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address cannot be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadBytes)
	}
	if c.Server.Heartbeat.Duration <= 0 {
		return fmt.Errorf("invalid heartbeat interval: %v (must be positive)", c.Server.Heartbeat)
	}
	if c.Server.HeartbeatGrace.Duration < c.Server.Heartbeat.Duration {
		return fmt.Errorf("heartbeat grace %v shorter than heartbeat interval %v",
			c.Server.HeartbeatGrace, c.Server.Heartbeat)
	}
	if c.Client.ServerURL == "" {
		return fmt.Errorf("client server URL cannot be empty")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base URL cannot be empty")
	}
	if c.Transfer.ChunkSize < 1024 {
		return fmt.Errorf("invalid chunk size: %d (must be >= 1024)", c.Transfer.ChunkSize)
	}
	if len(c.Session.ListenAddrs) == 0 {
		return fmt.Errorf("session listen addresses cannot be empty")
	}
	return nil
}
