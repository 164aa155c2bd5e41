package main

import (
	"os"

	"github.com/bytegrader/bgctl/cmd/bgctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
