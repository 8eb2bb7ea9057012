// Package agent owns the lifecycle of the capture session: the proxy loop
// on its own goroutine, the instrumentation attach, and the periodic
// reporting loop over the shared store.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosstap/crosstap/internal/config"
	"github.com/crosstap/crosstap/internal/hooks"
	"github.com/crosstap/crosstap/internal/journal"
	"github.com/crosstap/crosstap/internal/proxyeng"
	"github.com/crosstap/crosstap/internal/store"
)

// reportTitleLen is the display cap for artifact titles in reports.
const reportTitleLen = 80

// recentArtifactCount is how many recent artifacts a report shows.
const recentArtifactCount = 3

// Agent orchestrates the capture session.
type Agent struct {
	cfg       config.Config
	store     *store.Store
	proxy     *proxyeng.Server
	hooker    *hooks.Hooker
	journal   *journal.Journal
	sessionID string

	mu       sync.Mutex
	attached bool
}

// New creates an agent over the given components. The proxy and hooker may
// each be nil for reduced modes (stats-only, proxy-only).
func New(cfg config.Config, s *store.Store, proxy *proxyeng.Server, hooker *hooks.Hooker) *Agent {
	return &Agent{
		cfg:       cfg,
		store:     s,
		proxy:     proxy,
		hooker:    hooker,
		sessionID: uuid.New().String(),
	}
}

// SessionID tags log lines and forwarded events for this run.
func (a *Agent) SessionID() string { return a.sessionID }

// WithJournal attaches a session journal. Lifecycle events (proxy start,
// attach outcome, shutdown) are recorded there in addition to stderr.
func (a *Agent) WithJournal(j *journal.Journal) *Agent {
	a.journal = j
	return a
}

func (a *Agent) record(event, detail string) {
	if a.journal == nil {
		return
	}
	err := a.journal.Record(journal.Entry{
		Session: a.sessionID,
		Event:   event,
		Detail:  detail,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
	}
}

// Attached reports whether instrumentation came up during Start. Safe to
// call from any goroutine.
func (a *Agent) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

func (a *Agent) setAttached(v bool) {
	a.mu.Lock()
	a.attached = v
	a.mu.Unlock()
}

// Start launches the proxy loop on its own goroutine, waits the bind grace
// period, then attempts instrumentation attach. Attach failure degrades to
// traffic-only capture; it is not fatal.
func (a *Agent) Start(ctx context.Context, targetProcess string) error {
	if a.proxy != nil {
		go func() {
			if err := a.proxy.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "agent: proxy: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "agent: proxy listening on %s (session %s)\n", a.proxy.Addr(), a.sessionID)
		a.record("proxy_started", a.proxy.Addr())

		select {
		case <-time.After(a.cfg.BindGrace()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if a.hooker == nil {
		return nil
	}

	if err := a.hooker.Attach(ctx, targetProcess); err != nil {
		fmt.Fprintf(os.Stderr, "agent: instrumentation unavailable, continuing with traffic capture only: %v\n", err)
		a.record("attach_degraded", err.Error())
		return nil
	}
	a.setAttached(true)
	a.record("attach_active", a.hooker.AttachedTo())

	if a.cfg.PayloadPath != "" {
		reloader := hooks.NewReloader(a.cfg.PayloadPath, a.hooker)
		go func() {
			if err := reloader.Run(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "agent: payload reloader: %v\n", err)
			}
		}()
	}
	return nil
}

// Report renders aggregate counts and the most recent artifact titles.
// Pure read; safe to call from any goroutine at any time.
func (a *Agent) Report(ctx context.Context, w io.Writer) error {
	traffic, err := a.store.Count(ctx, store.KindTraffic)
	if err != nil {
		return fmt.Errorf("agent: report: %w", err)
	}
	hookCount, err := a.store.Count(ctx, store.KindHook)
	if err != nil {
		return fmt.Errorf("agent: report: %w", err)
	}
	artifacts, err := a.store.Count(ctx, store.KindArtifact)
	if err != nil {
		return fmt.Errorf("agent: report: %w", err)
	}

	fmt.Fprintf(w, "=== capture report ===\n")
	fmt.Fprintf(w, "network requests captured: %d\n", traffic)
	fmt.Fprintf(w, "hook events recorded: %d\n", hookCount)
	fmt.Fprintf(w, "artifacts extracted: %d\n", artifacts)

	recent, err := a.store.RecentArtifacts(ctx, recentArtifactCount)
	if err != nil {
		return fmt.Errorf("agent: report: %w", err)
	}
	if len(recent) > 0 {
		fmt.Fprintf(w, "recent artifacts:\n")
		for _, rec := range recent {
			fmt.Fprintf(w, "  - %s\n", truncateTitle(rec.Title, reportTitleLen))
		}
	}
	return nil
}

// RunUntilCancelled loops the reporting interval until ctx is cancelled,
// then writes one final report and returns. Blocks its caller.
func (a *Agent) RunUntilCancelled(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(a.cfg.ReportInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.Report(context.Background(), w); err != nil {
				return err
			}
			return nil
		case <-ticker.C:
			if err := a.Report(ctx, w); err != nil {
				fmt.Fprintf(os.Stderr, "agent: %v\n", err)
			}
		}
	}
}

// Close tears down instrumentation, the journal and the store. Safe after a
// failed or partial Start.
func (a *Agent) Close() error {
	if a.hooker != nil {
		a.hooker.Detach()
	}
	a.record("session_stopped", "")
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		}
	}
	return a.store.Close()
}

func truncateTitle(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
