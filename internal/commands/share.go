package commands

import (
	"context"
	"fmt"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/directory"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/session"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/signal"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/store"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/transfer"
)

var shareTo string

// ShareCmd shares a file with another user.
var ShareCmd = &cobra.Command{
	Use:   "share FILE",
	Short: "Share a file with another user",
	Long: `Share a file: the content is placed in the content store, the
receiver's registered endpoints are dialed for direct notification, and
the content identifier is the durable hand-off either way.`,
	Args: cobra.ExactArgs(1),
	RunE: runShare,
}

func init() {
	ShareCmd.Flags().StringVar(&shareTo, "to", "", "Receiving user identity")
	ShareCmd.MarkFlagRequired("to")
}

func runShare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	identity := envIdentity{}
	userID, err := identity.CurrentUserID()
	if err != nil {
		return err
	}

	ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records := record.NewMemStore()
	dir := directory.New(records)
	content := store.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.PathPrefix, log,
		store.WithTimeout(cfg.Gateway.Timeout.Duration))

	sess := session.NewManager(ctx, session.Options{
		ListenAddrs: cfg.Session.ListenAddrs,
		MDNSTag:     cfg.Session.MDNSTag,
		Logger:      log,
	})
	defer sess.Shutdown()

	peerID, addrs, err := sess.EnsureReady(ctx)
	if err != nil {
		return err
	}
	if err := dir.Register(ctx, userID, directory.Endpoint{
		DeviceID:   deviceID(),
		PeerID:     peerID,
		Addresses:  addrs,
		LastActive: time.Now(),
	}); err != nil {
		return err
	}

	// Announce presence to the signaling server. Its absence degrades
	// the share to content-store hand-off only.
	sig := signal.NewClient(cfg.Client.ServerURL, signal.Options{
		Heartbeat: cfg.Server.Heartbeat.Duration,
		Logger:    log,
	})
	if _, err := sig.Connect(ctx, userID); err != nil {
		log.WithError(err).Warn("signaling server unavailable, continuing without it")
	} else {
		go sig.RunHeartbeat(ctx)
		defer sig.Disconnect(context.Background())
	}

	coord := transfer.NewCoordinator(identity, records, content, dir, sess, transfer.Options{
		NotifyTopic: cfg.Transfer.NotifyTopic,
		DialTimeout: cfg.Transfer.DialTimeout.Duration,
		Logger:      log,
	})

	progress := make(chan transfer.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Printf("%3.0f%%  %s\n", p.Fraction*100, p.Stage)
		}
	}()

	rec, err := coord.ShareFile(ctx, shareTo, args[0], progress)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	fmt.Printf("Transfer %s %s\n", rec.ID, rec.Status)
	fmt.Printf("Content ID: %s\n", rec.ContentID)
	fmt.Printf("Share URL:  %s\n", rec.ShareURL)
	return nil
}
