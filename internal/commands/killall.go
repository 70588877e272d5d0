package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/pidfile"
)

// KillAllCmd terminates every running burrow server.
var KillAllCmd = &cobra.Command{
	Use:   "killall",
	Short: "Terminate all running burrow servers",
	RunE:  runKillAll,
}

func runKillAll(cmd *cobra.Command, args []string) error {
	count, err := pidfile.KillAll()
	if err != nil {
		return fmt.Errorf("failed to kill processes: %w", err)
	}

	if count == 0 {
		fmt.Println("No running burrow servers found")
	} else {
		fmt.Printf("Killed %d instance(s)\n", count)
	}
	return nil
}
