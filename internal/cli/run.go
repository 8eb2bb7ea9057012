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
	"github.com/crosstap/crosstap/internal/forward"
	"github.com/crosstap/crosstap/internal/hooks"
	"github.com/crosstap/crosstap/internal/journal"
	"github.com/crosstap/crosstap/internal/proxyeng"
	"github.com/crosstap/crosstap/internal/store"
)

var (
	runConfigPath string
	runPort       int
	runDBPath     string
	runTargets    []string
	runProcess    string
	runPayload    string
	runJournal    string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to YAML config (default: built-in defaults)")
	runCmd.Flags().IntVar(&runPort, "port", 0, "Proxy listen port (overrides config)")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "Capture database path (overrides config)")
	runCmd.Flags().StringSliceVar(&runTargets, "target", nil, "Target domain to capture (repeatable, overrides config)")
	runCmd.Flags().StringVar(&runProcess, "process", "", "Explicit process to attach (default: fallback candidates)")
	runCmd.Flags().StringVar(&runPayload, "payload", "", "Hook payload file (overrides embedded payload, live-reloaded)")
	runCmd.Flags().StringVar(&runJournal, "journal", "", "Session journal path (hash-chained JSONL, overrides config)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the full capture session: proxy, hooks, and reporting loop",
	Long: "Launches the intercepting proxy, attaches instrumentation to the target\n" +
		"process (fallback candidates, then spawn), and reports captured counts\n" +
		"periodically until interrupted. Instrumentation failure degrades to\n" +
		"traffic-only capture.",
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open capture database: %w", err)
	}

	var captureOpts []capture.Option
	var hookOpts []hooks.Option
	if cfg.Forward.Enabled() {
		fwd, err := forward.NewClient(cfg.Forward)
		if err != nil {
			s.Close()
			return fmt.Errorf("configure forwarding: %w", err)
		}
		captureOpts = append(captureOpts, capture.WithNotifier(capture.Notifier(fwd.Notify)))
		hookOpts = append(hookOpts, hooks.WithNotifier(hooks.Notifier(fwd.Notify)))
	}

	addon := capture.NewAddon(s, cfg.TargetDomains, captureOpts...)
	proxy := proxyeng.NewServer(cfg.ListenPort, addon)

	hookOpts = append(hookOpts,
		hooks.WithCandidates(cfg.ProcessCandidates),
		hooks.WithSpawnTarget(cfg.SpawnTarget),
		hooks.WithLookupTimeout(cfg.DeviceTimeout()),
	)
	if cfg.PayloadPath != "" {
		src, err := hooks.LoadPayload(cfg.PayloadPath)
		if err != nil {
			s.Close()
			return err
		}
		hookOpts = append(hookOpts, hooks.WithPayload(src))
	}
	hooker := hooks.NewHooker(deviceFinder(), s, hookOpts...)

	a := agent.New(cfg, s, proxy, hooker)
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			s.Close()
			return err
		}
		a.WithJournal(j)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()

	if err := a.Start(ctx, runProcess); err != nil {
		return err
	}
	fmt.Printf("crosstap capturing on :%d for %v (db: %s)\n", cfg.ListenPort, cfg.TargetDomains, cfg.DBPath)
	fmt.Println("Press Ctrl+C to stop")

	return a.RunUntilCancelled(ctx, os.Stdout)
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return cfg, err
	}
	if runPort > 0 {
		cfg.ListenPort = runPort
	}
	if runDBPath != "" {
		cfg.DBPath = runDBPath
	}
	if len(runTargets) > 0 {
		cfg.TargetDomains = runTargets
	}
	if runPayload != "" {
		cfg.PayloadPath = runPayload
	}
	if runJournal != "" {
		cfg.JournalPath = runJournal
	}
	return cfg, nil
}

// deviceFinder returns the instrumentation engine binding. Builds without
// one fall back to a finder that always fails, which the agent treats as
// reduced-capability mode.
func deviceFinder() hooks.DeviceFinder {
	return hooks.UnavailableFinder{Reason: "no instrumentation engine linked into this build"}
}
