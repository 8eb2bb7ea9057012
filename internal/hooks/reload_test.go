package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReloaderSwapsChangedPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.js")
	if err := os.WriteFile(path, []byte("send({v:1});"), 0o644); err != nil {
		t.Fatal(err)
	}

	device := newFakeDevice("com.example.app")
	h, _ := newTestHooker(t, &fakeFinder{device: device})
	if err := h.Attach(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	session := device.nameSessions["com.example.app"]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReloader(path, h)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("send({v:2});"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Wait for debounce + reload.
	time.Sleep(500 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(session.scripts) != 2 {
		t.Fatalf("expected a replacement script, got %d scripts", len(session.scripts))
	}
	if session.scripts[1].source != "send({v:2});" {
		t.Fatalf("unexpected replacement source %q", session.scripts[1].source)
	}
	if !session.scripts[1].loaded || !session.scripts[0].unloaded {
		t.Fatal("expected new script loaded and old script unloaded")
	}
}

func TestReloaderIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.js")
	if err := os.WriteFile(path, []byte("send({v:1});"), 0o644); err != nil {
		t.Fatal(err)
	}

	device := newFakeDevice("com.example.app")
	h, _ := newTestHooker(t, &fakeFinder{device: device})
	if err := h.Attach(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	session := device.nameSessions["com.example.app"]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReloader(path, h)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// A different file in the watched directory must not trigger a reload.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(session.scripts) != 1 {
		t.Fatalf("expected no reload, got %d scripts", len(session.scripts))
	}
}
