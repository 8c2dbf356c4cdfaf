package main

import (
	"github.com/spf13/cobra"

	"github.com/hellblazer/hal-9000/internal/orcherr"
)

var rootCmd = &cobra.Command{
	Use:   "hal9000d",
	Short: "Orchestrates isolated AI-assistant worker sessions in container sandboxes",
	Long: `hal9000d owns the container-engine socket, the warm-worker pool, and
per-project session metadata. Front-ends invoke it for daemon control,
spawning a session against a project directory, attaching to one
interactively, listing what's running, and managing the warm pool.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree; main translates its error into an exit code.
func Execute() error {
	return rootCmd.Execute()
}

// exitCodeFor maps an orcherr.Kind to the §6 CLI surface's failure exit
// codes. Kinds with no command-specific meaning fall back to 1.
func exitCodeFor(err error) int {
	switch orcherr.KindOf(err) {
	case orcherr.EngineUnavailable:
		return 1
	case orcherr.Conflict:
		return 2
	default:
		return 1
	}
}
