package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero.
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "meridian",
		Short: "Autonomous revenue engine",
		Long: `Meridian runs a cyclic multi-phase engine that fans work out to
registered subsystems, aggregates yield, and exposes an HTTP and MCP
control surface.

The daemon is started with "meridian run" (or "meridian supervise" for
crash recovery); the remaining commands are thin HTTP clients for a
running daemon, addressed via MERIDIAN_ADDR.`,
		// SilenceUsage prevents printing usage on errors we handle ourselves
		// (failed connections, invalid state).
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(`{{printf "meridian version %s\n" .Version}}`)

	root.AddCommand(newRunCmd())
	root.AddCommand(newSuperviseCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPauseCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newActivityCmd())
	root.AddCommand(newCyclesCmd())

	return root
}
