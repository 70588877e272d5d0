package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

const Version = "0.9.0"

// VersionCmd prints the burrow version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the version of burrow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("burrow version %s\n", Version)
	},
}
