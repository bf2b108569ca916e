// Command pertscan is the PertScan TCP port scanner.
package main

import (
	"github.com/freaksdesign/PertScan/cmd/cli"
)

// Set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
