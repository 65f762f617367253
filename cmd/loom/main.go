package main

import (
	"os"

	"github.com/watzon/loom/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
