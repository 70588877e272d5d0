package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	osignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/directory"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/session"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/signal"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/store"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/transfer"
)

var watchDir string

// WatchCmd runs the receiving side: it registers this device's
// endpoint, listens for transfer notices, and downloads completed
// transfers as they arrive.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Wait for incoming transfers and download them",
	RunE:  runWatch,
}

func init() {
	WatchCmd.Flags().StringVar(&watchDir, "dir", "", "Download directory (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	downloadDir := watchDir
	if downloadDir == "" {
		downloadDir = cfg.Client.DownloadDir
	}
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
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

	coord := transfer.NewCoordinator(identity, records, content, dir, sess, transfer.Options{
		NotifyTopic: cfg.Transfer.NotifyTopic,
		DialTimeout: cfg.Transfer.DialTimeout.Duration,
		Logger:      log,
	})

	// Direct path: notices published on the well-known topic become
	// completed records, which the watcher turns into downloads.
	err = sess.Subscribe(cfg.Transfer.NotifyTopic, func(sender string, payload []byte) {
		var notice transfer.Notice
		if err := json.Unmarshal(payload, &notice); err != nil || notice.Type != transfer.NoticeType {
			return
		}
		if err := coord.RecordIncoming(ctx, sender, notice); err != nil {
			log.WithError(err).Warn("failed to record transfer notice")
		}
	})
	if err != nil {
		return err
	}

	// Fallback path: the signaling server announces store-and-forward
	// completions over the real-time channel.
	sig := signal.NewClient(cfg.Client.ServerURL, signal.Options{
		Heartbeat: cfg.Server.Heartbeat.Duration,
		Logger:    log,
	})
	if sigPeerID, err := sig.Connect(ctx, userID); err != nil {
		log.WithError(err).Warn("signaling server unavailable, direct notices only")
	} else {
		go sig.RunHeartbeat(ctx)
		defer sig.Disconnect(context.Background())

		ch, err := signal.OpenChannel(ctx, cfg.Client.ServerURL, sigPeerID, signal.Handlers{
			TransferCompleted: func(ev protocol.TransferCompletedEvent) {
				if ev.TransferMode != "server_relay" {
					return
				}
				dest := filepath.Join(downloadDir, filepath.Base(ev.FileName))
				if err := sig.Download(ctx, ev.TransferID, dest); err != nil {
					log.WithError(err).Error("store-and-forward download failed")
					return
				}
				log.WithFields(logrus.Fields{"transfer_id": ev.TransferID, "path": dest}).
					Info("transfer downloaded via server")
			},
		}, log)
		if err != nil {
			log.WithError(err).Warn("failed to open real-time channel")
		} else {
			defer ch.Close()
		}
	}

	fmt.Printf("Watching for transfers to %s, saving to %s\n", userID, downloadDir)

	watcher := transfer.NewWatcher(coord, downloadDir, func(rec *transfer.Record, savePath string, err error) {
		if err != nil {
			log.WithError(err).WithField("transfer_id", rec.ID).Error("download failed")
			return
		}
		fmt.Printf("Received %s -> %s\n", rec.FileName, savePath)
	})
	return watcher.Run(ctx)
}
