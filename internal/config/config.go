package config

import "time"

// Config holds all BurrowSpace configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Client   ClientConfig   `toml:"client"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Transfer TransferConfig `toml:"transfer"`
	Session  SessionConfig  `toml:"session"`
	Behavior BehaviorConfig `toml:"behavior"`
}

// ClientConfig holds client-side settings
type ClientConfig struct {
	ServerURL   string `toml:"serverURL"`
	DownloadDir string `toml:"downloadDir"`
}

// ServerConfig holds signaling/relay server settings
type ServerConfig struct {
	ListenAddr     string   `toml:"listenAddr"`
	UploadDir      string   `toml:"uploadDir"`
	MaxUploadBytes int64    `toml:"maxUploadBytes"`
	Heartbeat      Duration `toml:"heartbeat"`
	HeartbeatGrace Duration `toml:"heartbeatGrace"`
	ReaperInterval Duration `toml:"reaperInterval"`
}

// GatewayConfig holds content store gateway settings
type GatewayConfig struct {
	BaseURL    string   `toml:"baseURL"`
	PathPrefix string   `toml:"pathPrefix"`
	PinOnStore bool     `toml:"pinOnStore"`
	Timeout    Duration `toml:"timeout"`
}

// TransferConfig holds transfer coordinator settings
type TransferConfig struct {
	ChunkSize      int      `toml:"chunkSize"`
	DialTimeout    Duration `toml:"dialTimeout"`
	PublishTimeout Duration `toml:"publishTimeout"`
	NotifyTopic    string   `toml:"notifyTopic"`
}

// SessionConfig holds peer session manager settings
type SessionConfig struct {
	ListenAddrs []string `toml:"listenAddrs"`
	MDNSTag     string   `toml:"mdnsTag"`
}

// BehaviorConfig holds process-level behavior settings
type BehaviorConfig struct {
	Verbosity int `toml:"verbosity"`
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
