package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Cached, rate-limited multi-algorithm diagnostics",
	Long: `Pulse serves diagnostic scores over HTTP. Results are cached per
subject state, calls are rate limited per subject, and heavy work can be
queued to a worker pool and polled.`,
	SilenceUsage: true,
}

func init() { //nolint:gochecknoinits // cobra command tree
	rootCmd.AddCommand(newServeCmd(), newBurstCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
