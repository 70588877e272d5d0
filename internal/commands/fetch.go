package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/store"
)

// FetchCmd downloads content by its identifier.
var FetchCmd = &cobra.Command{
	Use:   "fetch CID DEST",
	Short: "Fetch content from the store by identifier",
	Args:  cobra.ExactArgs(2),
	RunE:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	content := store.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.PathPrefix, log,
		store.WithTimeout(cfg.Gateway.Timeout.Duration))

	rc, err := content.Fetch(context.Background(), args[0])
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args[1], err)
	}
	n, err := io.Copy(out, rc)
	if err != nil {
		out.Close()
		os.Remove(args[1])
		return fmt.Errorf("failed to write %s: %w", args[1], err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	fmt.Printf("Wrote %d bytes to %s\n", n, args[1])
	return nil
}
