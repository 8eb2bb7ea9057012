package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crosstap/crosstap/internal/store"
)

// --- Fake engine ---

type fakeScript struct {
	source   string
	loaded   bool
	unloaded bool
}

func (s *fakeScript) Load() error   { s.loaded = true; return nil }
func (s *fakeScript) Unload() error { s.unloaded = true; return nil }

type fakeSession struct {
	process  string
	scripts  []*fakeScript
	detached bool
}

func (s *fakeSession) CreateScript(source string, handler MessageHandler) (Script, error) {
	script := &fakeScript{source: source}
	s.scripts = append(s.scripts, script)
	return script, nil
}

func (s *fakeSession) Detach() error { s.detached = true; return nil }

type fakeDevice struct {
	running      map[string]bool
	attachErr    error // non-not-found error for any attach
	attempts     []string
	spawned      []string
	resumed      []int
	nextPID      int
	spawnErr     error
	pidSessions  map[int]*fakeSession
	nameSessions map[string]*fakeSession
}

func newFakeDevice(running ...string) *fakeDevice {
	d := &fakeDevice{
		running:      map[string]bool{},
		nextPID:      4000,
		pidSessions:  map[int]*fakeSession{},
		nameSessions: map[string]*fakeSession{},
	}
	for _, name := range running {
		d.running[name] = true
	}
	return d
}

func (d *fakeDevice) Attach(name string) (Session, error) {
	d.attempts = append(d.attempts, name)
	if d.attachErr != nil {
		return nil, d.attachErr
	}
	if !d.running[name] {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	s := &fakeSession{process: name}
	d.nameSessions[name] = s
	return s, nil
}

func (d *fakeDevice) AttachPID(pid int) (Session, error) {
	s := &fakeSession{process: fmt.Sprintf("pid:%d", pid)}
	d.pidSessions[pid] = s
	return s, nil
}

func (d *fakeDevice) Spawn(name string) (int, error) {
	if d.spawnErr != nil {
		return 0, d.spawnErr
	}
	d.spawned = append(d.spawned, name)
	d.nextPID++
	return d.nextPID, nil
}

func (d *fakeDevice) Resume(pid int) error {
	d.resumed = append(d.resumed, pid)
	return nil
}

type fakeFinder struct {
	device *fakeDevice
	err    error
}

func (f *fakeFinder) FindDevice(ctx context.Context, timeout time.Duration) (Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.device, nil
}

func newTestHooker(t *testing.T, finder DeviceFinder, opts ...Option) (*Hooker, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewHooker(finder, s, opts...), s
}

// --- Attach state machine ---

func TestExplicitAttachSuccess(t *testing.T) {
	device := newFakeDevice("com.example.app")
	h, _ := newTestHooker(t, &fakeFinder{device: device})

	if err := h.Attach(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if h.State() != StateActive {
		t.Fatalf("expected active, got %s", h.State())
	}
	session := device.nameSessions["com.example.app"]
	if session == nil || len(session.scripts) != 1 || !session.scripts[0].loaded {
		t.Fatal("expected one loaded script in the session")
	}
	if h.AttachedTo() != "com.example.app" {
		t.Fatalf("expected attached process name, got %q", h.AttachedTo())
	}
}

func TestExplicitAttachNoFallback(t *testing.T) {
	device := newFakeDevice("com.android.chrome") // a fallback candidate is running
	h, _ := newTestHooker(t, &fakeFinder{device: device})

	err := h.Attach(context.Background(), "com.missing.app")
	if err == nil {
		t.Fatal("expected attach failure for missing explicit process")
	}
	if !errors.Is(err, ErrAttach) {
		t.Fatalf("expected ErrAttach, got %v", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
	if len(device.attempts) != 1 || device.attempts[0] != "com.missing.app" {
		t.Fatalf("expected exactly one attempt for the explicit name, got %v", device.attempts)
	}
}

func TestFallbackStopsAtFirstRunningCandidate(t *testing.T) {
	device := newFakeDevice("org.mozilla.firefox")
	h, _ := newTestHooker(t, &fakeFinder{device: device})

	if err := h.Attach(context.Background(), ""); err != nil {
		t.Fatalf("attach: %v", err)
	}
	want := []string{"com.android.chrome", "org.mozilla.firefox"}
	if len(device.attempts) != len(want) {
		t.Fatalf("expected attempts %v, got %v", want, device.attempts)
	}
	for i, name := range want {
		if device.attempts[i] != name {
			t.Fatalf("attempt %d: expected %s, got %s", i, name, device.attempts[i])
		}
	}
	if len(device.spawned) != 0 {
		t.Fatalf("expected no spawn, got %v", device.spawned)
	}
	if h.AttachedTo() != "org.mozilla.firefox" {
		t.Fatalf("expected candidate process name, got %q", h.AttachedTo())
	}
}

func TestFallbackExhaustedSpawnsDefault(t *testing.T) {
	device := newFakeDevice() // nothing running
	h, _ := newTestHooker(t, &fakeFinder{device: device})

	if err := h.Attach(context.Background(), ""); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(device.spawned) != 1 || device.spawned[0] != DefaultSpawnTarget {
		t.Fatalf("expected spawn of %s, got %v", DefaultSpawnTarget, device.spawned)
	}
	if len(device.resumed) != 1 {
		t.Fatalf("expected resume of spawned pid, got %v", device.resumed)
	}
	if h.State() != StateActive {
		t.Fatalf("expected active, got %s", h.State())
	}
}

func TestFallbackNonNotFoundErrorIsTerminal(t *testing.T) {
	device := newFakeDevice()
	device.attachErr = errors.New("device busy")
	h, _ := newTestHooker(t, &fakeFinder{device: device})

	err := h.Attach(context.Background(), "")
	if !errors.Is(err, ErrAttach) {
		t.Fatalf("expected ErrAttach, got %v", err)
	}
	if len(device.attempts) != 1 {
		t.Fatalf("expected iteration to stop at first hard error, got %v", device.attempts)
	}
	if len(device.spawned) != 0 {
		t.Fatal("must not spawn after a hard attach error")
	}
}

func TestDeviceLookupFailure(t *testing.T) {
	h, _ := newTestHooker(t, &fakeFinder{err: errors.New("no usb device")})

	err := h.Attach(context.Background(), "")
	if !errors.Is(err, ErrAttach) {
		t.Fatalf("expected ErrAttach, got %v", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
}

func TestSpawnFailureIsTerminal(t *testing.T) {
	device := newFakeDevice()
	device.spawnErr = errors.New("spawn refused")
	h, _ := newTestHooker(t, &fakeFinder{device: device})

	err := h.Attach(context.Background(), "")
	if !errors.Is(err, ErrAttach) {
		t.Fatalf("expected ErrAttach, got %v", err)
	}
}

// --- Message handling ---

func TestOnMessageWebviewLoad(t *testing.T) {
	h, s := newTestHooker(t, &fakeFinder{device: newFakeDevice()})

	h.OnMessage(Message{
		Type: "send",
		Payload: map[string]any{
			"type":      "webview_load",
			"url":       "https://example.com",
			"timestamp": "2026-08-30T10:00:00.000Z",
		},
	})

	n, err := s.Count(context.Background(), store.KindHook)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 hook row, got %d", n)
	}

	rows, err := recentHooks(s)
	if err != nil {
		t.Fatalf("read hooks: %v", err)
	}
	rec := rows[0]
	if rec.HookType != "webview_load" {
		t.Fatalf("expected hook_type webview_load, got %q", rec.HookType)
	}
	if rec.FunctionName != "unknown" {
		t.Fatalf("expected function_name unknown, got %q", rec.FunctionName)
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(rec.Parameters), &params); err != nil {
		t.Fatalf("parameters not JSON: %v", err)
	}
	if params["url"] != "https://example.com" {
		t.Fatalf("expected url parameter, got %v", params)
	}
	var additional map[string]any
	if err := json.Unmarshal([]byte(rec.AdditionalData), &additional); err != nil {
		t.Fatalf("additional_data not JSON: %v", err)
	}
	if additional["type"] != "webview_load" || additional["timestamp"] != "2026-08-30T10:00:00.000Z" {
		t.Fatalf("additional_data lost fields: %v", additional)
	}
}

func TestOnMessageMethodBecomesFunctionName(t *testing.T) {
	h, s := newTestHooker(t, &fakeFinder{device: newFakeDevice()})

	h.OnMessage(Message{
		Type: "send",
		Payload: map[string]any{
			"type":   "okhttp_request",
			"url":    "https://example.com/feed",
			"method": "POST",
		},
	})

	rows, err := recentHooks(s)
	if err != nil {
		t.Fatalf("read hooks: %v", err)
	}
	if rows[0].FunctionName != "POST" {
		t.Fatalf("expected function_name POST, got %q", rows[0].FunctionName)
	}
}

func TestOnMessageUnknownShapeStoredVerbatim(t *testing.T) {
	h, s := newTestHooker(t, &fakeFinder{device: newFakeDevice()})

	h.OnMessage(Message{
		Type: "send",
		Payload: map[string]any{
			"weird":  []any{1.0, "two"},
			"nested": map[string]any{"deep": true},
		},
	})

	rows, err := recentHooks(s)
	if err != nil {
		t.Fatalf("read hooks: %v", err)
	}
	rec := rows[0]
	if rec.HookType != "unknown" || rec.FunctionName != "unknown" {
		t.Fatalf("expected unknown tags, got %q/%q", rec.HookType, rec.FunctionName)
	}
	var additional map[string]any
	if err := json.Unmarshal([]byte(rec.AdditionalData), &additional); err != nil {
		t.Fatalf("additional_data not JSON: %v", err)
	}
	if _, ok := additional["weird"]; !ok {
		t.Fatalf("unrecognized fields must survive: %v", additional)
	}
}

func TestOnMessageErrorReportNotStored(t *testing.T) {
	h, s := newTestHooker(t, &fakeFinder{device: newFakeDevice()})

	h.OnMessage(Message{Type: "error", Stack: "ReferenceError: boom"})

	n, err := s.Count(context.Background(), store.KindHook)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("error reports are operational signals, not data; got %d rows", n)
	}
}

// --- Teardown & payload replacement ---

func TestDetachIdempotentAndSafeWithoutAttach(t *testing.T) {
	h, _ := newTestHooker(t, &fakeFinder{device: newFakeDevice()})
	h.Detach()
	h.Detach()
	if h.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.State())
	}
}

func TestDetachReleasesSession(t *testing.T) {
	device := newFakeDevice("com.example.app")
	h, _ := newTestHooker(t, &fakeFinder{device: device})
	if err := h.Attach(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	h.Detach()

	session := device.nameSessions["com.example.app"]
	if !session.detached {
		t.Fatal("expected session detached")
	}
	if !session.scripts[0].unloaded {
		t.Fatal("expected script unloaded")
	}
	h.Detach() // second call is a no-op
}

func TestReplacePayloadSwapsScript(t *testing.T) {
	device := newFakeDevice("com.example.app")
	h, _ := newTestHooker(t, &fakeFinder{device: device})
	if err := h.Attach(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := h.ReplacePayload("console.log('v2');"); err != nil {
		t.Fatalf("replace payload: %v", err)
	}

	session := device.nameSessions["com.example.app"]
	if len(session.scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(session.scripts))
	}
	if !session.scripts[0].unloaded {
		t.Fatal("old script must be unloaded")
	}
	if !session.scripts[1].loaded || session.scripts[1].source != "console.log('v2');" {
		t.Fatal("new script must be loaded with the replacement source")
	}
}

func TestReplacePayloadWithoutSession(t *testing.T) {
	h, _ := newTestHooker(t, &fakeFinder{device: newFakeDevice()})
	if err := h.ReplacePayload("x"); err == nil {
		t.Fatal("expected error without an active session")
	}
}

func TestLoadPayloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.js")
	if err := os.WriteFile(path, []byte("send({type:'ping'});"), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	src, err := LoadPayload(path)
	if err != nil {
		t.Fatalf("load payload: %v", err)
	}
	if src != "send({type:'ping'});" {
		t.Fatalf("unexpected payload %q", src)
	}
	if _, err := LoadPayload(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Fatal("expected error for missing payload file")
	}
}

// recentHooks reads hook rows newest-first straight from the store's tables.
func recentHooks(s *store.Store) ([]store.HookRecord, error) {
	return s.RecentHooks(context.Background(), 10)
}
