package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crosstap/crosstap/internal/agent"
	"github.com/crosstap/crosstap/internal/config"
	"github.com/crosstap/crosstap/internal/store"
)

var statsDBPath string

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsDBPath, "db", "crosstap.db", "Capture database path")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a one-shot report from an existing capture database",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(statsDBPath)
		if err != nil {
			return fmt.Errorf("open capture database: %w", err)
		}

		a := agent.New(config.Default(), s, nil, nil)
		defer a.Close()
		return a.Report(context.Background(), os.Stdout)
	},
}
