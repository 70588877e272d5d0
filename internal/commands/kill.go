package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/pidfile"
)

// KillCmd terminates one running burrow server.
var KillCmd = &cobra.Command{
	Use:   "kill PID",
	Short: "Terminate a running burrow server",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	pid64, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid PID: %s", args[0])
	}

	if err := pidfile.Kill(int32(pid64)); err != nil {
		return err
	}

	fmt.Printf("Successfully killed process %d\n", pid64)
	return nil
}
