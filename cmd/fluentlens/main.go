// Command fluentlens records per-user language errors and serves their
// aggregated frequencies.
package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/fluentlens/fluentlens/internal/cmd"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	// Commands return errors rather than exiting so deferred store closes run.
	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
