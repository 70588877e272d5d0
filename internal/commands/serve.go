package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/pidfile"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/relay"
)

// ServeCmd runs the signaling/relay server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling/relay server",
	Long: `Run the signaling/relay server: peer registration and heartbeats,
signaling and chunk relay over the real-time channel, store-and-forward
uploads, and shared per-user peer nodes.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if err := pidfile.Register(); err != nil {
		log.WithError(err).Warn("failed to register PID")
	}
	defer func() {
		if err := pidfile.Unregister(); err != nil {
			log.WithError(err).Warn("failed to unregister PID")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(ctx, cfg.Server, cfg.Session.ListenAddrs, log)
	return srv.Start(ctx)
}
