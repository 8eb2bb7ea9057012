package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crosstap",
	Short: "Correlate proxy traffic and runtime hook events into one capture record",
	Long: "crosstap receives flows from an interposed proxy and messages from hooks\n" +
		"injected into a running target process, normalizes both into a shared\n" +
		"sqlite capture database, and reports aggregate state periodically.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
