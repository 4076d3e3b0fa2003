package main

import (
	"os"

	"github.com/pilab-dev/bridge-hds/cmd/bridgectl/cmd"
)

func main() {
	if err := cmd.NewRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
