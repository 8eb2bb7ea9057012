package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts on the payload file.
const reloadDebounce = 200 * time.Millisecond

// Reloader watches an external payload file and swaps it into the active
// session on change. Best-effort: reload failures are logged and the
// previous payload stays loaded.
type Reloader struct {
	path   string
	hooker *Hooker
}

// NewReloader creates a reloader for the given payload file.
func NewReloader(path string, h *Hooker) *Reloader {
	return &Reloader{path: path, hooker: h}
}

// Run watches the payload file until ctx is cancelled. The watch is placed
// on the parent directory so atomic-save editors (rename over the file)
// still trigger.
func (r *Reloader) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hooks: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("hooks: watch %s: %w", dir, err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-fire:
			timer = nil
			r.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "hooks: payload watcher: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	source, err := LoadPayload(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hooks: reload payload: %v\n", err)
		return
	}
	if err := r.hooker.ReplacePayload(source); err != nil {
		fmt.Fprintf(os.Stderr, "hooks: reload payload: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "hooks: payload reloaded from %s\n", r.path)
}
