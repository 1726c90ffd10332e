// phxd is a Hotline protocol chat and file sharing server.
//
// It accepts Hotline clients on a control port and its transfer port,
// keeps accounts and news in SQLite, announces itself to trackers and
// exposes an admin REST API with Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/phxd-project/phxd/internal/cli"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
