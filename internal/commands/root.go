// Package commands implements the burrow CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/config"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/transfer"
)

var (
	cfgFile    string
	serverURL  string
	gatewayURL string
	listenAddr string
	verbosity  int
)

// RootCmd is the burrow command.
var RootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Peer-to-peer file sharing over content-addressed storage",
	Long: `burrow coordinates file transfers between peers: content goes into a
content-addressed store, receivers are notified over a direct peer
connection when one can be established, and a signaling server relays
chunks or stores files when it cannot.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: burrow.toml)")
	RootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Signaling server URL")
	RootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "Content store gateway URL")
	RootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Server listen address (serve only)")
	RootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Verbose output (repeatable: -v, -vv)")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(ShareCmd)
	RootCmd.AddCommand(FetchCmd)
	RootCmd.AddCommand(WatchCmd)
	RootCmd.AddCommand(PsCmd)
	RootCmd.AddCommand(KillCmd)
	RootCmd.AddCommand(KillAllCmd)
	RootCmd.AddCommand(VersionCmd)
}

// Execute runs the CLI. Environment overrides are read from .env when
// one exists.
func Execute() error {
	_ = godotenv.Load()
	return RootCmd.Execute()
}

// loadConfig loads configuration and merges flag overrides into it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Merge(listenAddr, gatewayURL, serverURL, verbosity)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the configured verbosity.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch {
	case cfg.Behavior.Verbosity >= 2:
		log.SetLevel(logrus.TraceLevel)
	case cfg.Behavior.Verbosity == 1:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// envIdentity reads the current user identity from the environment.
type envIdentity struct{}

var _ transfer.Identity = envIdentity{}

func (envIdentity) CurrentUserID() (string, error) {
	id := os.Getenv("BURROW_USER_ID")
	if id == "" {
		return "", fmt.Errorf("%w: BURROW_USER_ID not set", transfer.ErrNotAuthenticated)
	}
	return id, nil
}

// deviceID returns a stable per-device key for endpoint registration.
func deviceID() string {
	if id := os.Getenv("BURROW_DEVICE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return host
}
