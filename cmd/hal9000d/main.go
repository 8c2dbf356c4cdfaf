// Command hal9000d is the orchestrator daemon (spec §1): it owns the
// container-engine socket, the warm-worker pool, and the session/worker
// state store, and exposes the daemon/spawn/attach/list/pool CLI surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hal9000d:", err)
		os.Exit(exitCodeFor(err))
	}
}
