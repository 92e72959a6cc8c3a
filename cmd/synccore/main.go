// Command synccore runs the content-transfer core of a personal cloud file
// sync service: upload/download RPCs, content-addressed dedup, and
// resumable uploads against a pluggable metadata/blob backend.
package main

import (
	"fmt"
	"os"

	"github.com/syncore/coreserver/cmd/synccore/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
