package main

import (
	"os"

	"github.com/trebuchet-org/treb-wallet/internal/cli"
	"github.com/trebuchet-org/treb-wallet/internal/config"
)

// Set by the linker at build time
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	config.SetBuildFlags(version, commit, date)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
