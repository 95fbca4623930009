// Command agent-brain is the local-first retrieval service CLI: it starts
// and stops per-project instances, enqueues indexing jobs, and queries the
// index.
package main

import (
	"os"

	"github.com/SpillwaveSolutions/agent-brain/cmd/agent-brain/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
