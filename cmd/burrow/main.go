package main

import (
	"os"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
