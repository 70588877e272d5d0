package config

import "time"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":5000",
			UploadDir:      "transfers",
			MaxUploadBytes: 16 << 30, // 16 GB, matching the hosted server limit
			Heartbeat:      Duration{30 * time.Second},
			HeartbeatGrace: Duration{90 * time.Second},
			ReaperInterval: Duration{30 * time.Second},
		},
		Client: ClientConfig{
			ServerURL:   "http://127.0.0.1:5000",
			DownloadDir: "downloads",
		},
		Gateway: GatewayConfig{
			BaseURL:    "http://127.0.0.1:5001",
			PathPrefix: "/ipfs",
			PinOnStore: true,
			Timeout:    Duration{15 * time.Second},
		},
		Transfer: TransferConfig{
			ChunkSize:      256 * 1024,
			DialTimeout:    Duration{10 * time.Second},
			PublishTimeout: Duration{5 * time.Second},
			NotifyTopic:    "burrowspace/transfers",
		},
		Session: SessionConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
			MDNSTag:     "burrowspace",
		},
		Behavior: BehaviorConfig{
			Verbosity: 0,
		},
	}
}
