package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crosstap/crosstap/internal/agent"
	"github.com/crosstap/crosstap/internal/capture"
	"github.com/crosstap/crosstap/internal/config"
	"github.com/crosstap/crosstap/internal/proxyeng"
	"github.com/crosstap/crosstap/internal/store"
)

var (
	proxyConfigPath string
	proxyPort       int
	proxyDBPath     string
	proxyTargets    []string
)

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.Flags().StringVar(&proxyConfigPath, "config", "", "Path to YAML config")
	proxyCmd.Flags().IntVar(&proxyPort, "port", 0, "Proxy listen port (overrides config)")
	proxyCmd.Flags().StringVar(&proxyDBPath, "db", "", "Capture database path (overrides config)")
	proxyCmd.Flags().StringSliceVar(&proxyTargets, "target", nil, "Target domain to capture (repeatable)")
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Start traffic capture only, without instrumentation",
	RunE:  runProxy,
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(proxyConfigPath)
	if err != nil {
		return err
	}
	if proxyPort > 0 {
		cfg.ListenPort = proxyPort
	}
	if proxyDBPath != "" {
		cfg.DBPath = proxyDBPath
	}
	if len(proxyTargets) > 0 {
		cfg.TargetDomains = proxyTargets
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open capture database: %w", err)
	}

	addon := capture.NewAddon(s, cfg.TargetDomains)
	proxy := proxyeng.NewServer(cfg.ListenPort, addon)
	a := agent.New(cfg, s, proxy, nil)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nstopping proxy...")
		cancel()
	}()

	if err := a.Start(ctx, ""); err != nil {
		return err
	}
	fmt.Printf("crosstap proxy on :%d for %v (db: %s)\n", cfg.ListenPort, cfg.TargetDomains, cfg.DBPath)

	return a.RunUntilCancelled(ctx, os.Stdout)
}
