package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/crosstap/crosstap/internal/store"
)

// State is the attach state machine position. Failed is terminal for one
// Attach call; a fresh call starts over from Idle.
type State int

const (
	StateIdle State = iota
	StateDeviceLookup
	StateExplicitAttach
	StateFallbackAttach
	StateSpawn
	StateScripted
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeviceLookup:
		return "device_lookup"
	case StateExplicitAttach:
		return "explicit_attach"
	case StateFallbackAttach:
		return "fallback_attach"
	case StateSpawn:
		return "spawn"
	case StateScripted:
		return "scripted"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultCandidates is the ordered fallback list tried when no explicit
// process name is given.
var DefaultCandidates = []string{
	"com.android.chrome",
	"org.mozilla.firefox",
	"com.opera.browser",
}

// DefaultSpawnTarget is launched fresh when every fallback candidate is absent.
const DefaultSpawnTarget = "com.android.chrome"

// DefaultLookupTimeout bounds device discovery.
const DefaultLookupTimeout = 10 * time.Second

// Notifier receives a copy of every hook record written. Best-effort.
type Notifier func(kind store.Kind, payload map[string]any)

// Hooker drives the attach state machine and normalizes hook messages into
// the store. Attach blocks its caller; OnMessage runs on the engine's
// delivery context.
type Hooker struct {
	finder        DeviceFinder
	store         *store.Store
	payload       string
	candidates    []string
	spawnTarget   string
	lookupTimeout time.Duration
	notify        Notifier

	mu         sync.Mutex
	state      State
	session    Session
	script     Script
	attachedTo string
}

// Option configures a Hooker.
type Option func(*Hooker)

// WithCandidates replaces the fallback candidate list.
func WithCandidates(candidates []string) Option {
	return func(h *Hooker) {
		if len(candidates) > 0 {
			h.candidates = candidates
		}
	}
}

// WithSpawnTarget replaces the default spawn target.
func WithSpawnTarget(name string) Option {
	return func(h *Hooker) {
		if name != "" {
			h.spawnTarget = name
		}
	}
}

// WithLookupTimeout bounds device discovery.
func WithLookupTimeout(d time.Duration) Option {
	return func(h *Hooker) {
		if d > 0 {
			h.lookupTimeout = d
		}
	}
}

// WithPayload overrides the embedded default hook payload.
func WithPayload(source string) Option {
	return func(h *Hooker) {
		if source != "" {
			h.payload = source
		}
	}
}

// WithNotifier attaches a record notifier.
func WithNotifier(n Notifier) Option {
	return func(h *Hooker) { h.notify = n }
}

// NewHooker creates a Hooker over the given engine and store.
func NewHooker(finder DeviceFinder, s *store.Store, opts ...Option) *Hooker {
	h := &Hooker{
		finder:        finder,
		store:         s,
		payload:       DefaultPayload,
		candidates:    DefaultCandidates,
		spawnTarget:   DefaultSpawnTarget,
		lookupTimeout: DefaultLookupTimeout,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current state machine position.
func (h *Hooker) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// AttachedTo returns the process name the hooker landed on, or "" before a
// successful Attach.
func (h *Hooker) AttachedTo() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attachedTo
}

func (h *Hooker) setAttachedTo(name string) {
	h.mu.Lock()
	h.attachedTo = name
	h.mu.Unlock()
}

func (h *Hooker) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Attach runs the attach state machine to terminal success (Active) or
// failure. An explicit process name is attempted directly with no fallback;
// with no name the fixed candidate list is tried in order, and if every
// candidate is absent the spawn target is launched fresh. Never retries
// internally.
func (h *Hooker) Attach(ctx context.Context, processName string) error {
	h.setState(StateDeviceLookup)

	device, err := h.finder.FindDevice(ctx, h.lookupTimeout)
	if err != nil {
		h.setState(StateFailed)
		return fmt.Errorf("hooks: %w: device lookup: %v", ErrAttach, err)
	}

	var session Session
	if processName != "" {
		h.setState(StateExplicitAttach)
		session, err = device.Attach(processName)
		if err != nil {
			h.setState(StateFailed)
			return fmt.Errorf("hooks: %w: attach %q: %v", ErrAttach, processName, err)
		}
		h.setAttachedTo(processName)
		fmt.Fprintf(os.Stderr, "hooks: attached to process %s\n", processName)
	} else {
		session, err = h.fallbackAttach(device)
		if err != nil {
			h.setState(StateFailed)
			return err
		}
	}

	h.setState(StateScripted)
	script, err := session.CreateScript(h.payload, h.OnMessage)
	if err != nil {
		_ = session.Detach()
		h.setState(StateFailed)
		return fmt.Errorf("hooks: %w: create script: %v", ErrAttach, err)
	}
	if err := script.Load(); err != nil {
		_ = session.Detach()
		h.setState(StateFailed)
		return fmt.Errorf("hooks: %w: load script: %v", ErrAttach, err)
	}

	h.mu.Lock()
	h.session = session
	h.script = script
	h.state = StateActive
	h.mu.Unlock()
	fmt.Fprintf(os.Stderr, "hooks: script loaded, hooks active\n")
	return nil
}

// fallbackAttach walks the candidate list, then spawns the default target if
// no candidate exists.
func (h *Hooker) fallbackAttach(device Device) (Session, error) {
	h.setState(StateFallbackAttach)
	for _, candidate := range h.candidates {
		session, err := device.Attach(candidate)
		if err == nil {
			h.setAttachedTo(candidate)
			fmt.Fprintf(os.Stderr, "hooks: attached to candidate process %s\n", candidate)
			return session, nil
		}
		if errors.Is(err, ErrProcessNotFound) {
			continue
		}
		return nil, fmt.Errorf("hooks: %w: attach %q: %v", ErrAttach, candidate, err)
	}

	h.setState(StateSpawn)
	fmt.Fprintf(os.Stderr, "hooks: no candidate process found, spawning %s\n", h.spawnTarget)
	pid, err := device.Spawn(h.spawnTarget)
	if err != nil {
		return nil, fmt.Errorf("hooks: %w: spawn %q: %v", ErrAttach, h.spawnTarget, err)
	}
	session, err := device.AttachPID(pid)
	if err != nil {
		return nil, fmt.Errorf("hooks: %w: attach spawned pid %d: %v", ErrAttach, pid, err)
	}
	if err := device.Resume(pid); err != nil {
		_ = session.Detach()
		return nil, fmt.Errorf("hooks: %w: resume pid %d: %v", ErrAttach, pid, err)
	}
	h.setAttachedTo(h.spawnTarget)
	return session, nil
}

// OnMessage handles one asynchronous delivery from the injected hooks. Data
// payloads become HookRecords; error reports are logged, not stored. A
// malformed payload is still recorded verbatim under additional_data rather
// than rejected.
func (h *Hooker) OnMessage(msg Message) {
	switch msg.Type {
	case "send":
		h.recordPayload(msg.Payload)
	case "error":
		fmt.Fprintf(os.Stderr, "hooks: script error: %s\n", msg.Stack)
	default:
		fmt.Fprintf(os.Stderr, "hooks: unknown message type %q\n", msg.Type)
	}
}

func (h *Hooker) recordPayload(payload map[string]any) {
	hookType := stringField(payload, "type")
	if hookType == "" {
		hookType = "unknown"
	}
	functionName := stringField(payload, "method")
	if functionName == "" {
		functionName = "unknown"
	}

	params, _ := json.Marshal(map[string]string{"url": stringField(payload, "url")})
	additional, err := json.Marshal(payload)
	if err != nil {
		additional = []byte(fmt.Sprintf("%v", payload))
	}

	rec := store.HookRecord{
		HookType:       hookType,
		FunctionName:   functionName,
		Parameters:     string(params),
		AdditionalData: string(additional),
	}
	if _, err := h.store.AppendHook(context.Background(), rec); err != nil {
		fmt.Fprintf(os.Stderr, "hooks: record message %s: %v\n", hookType, err)
		return
	}
	if h.notify != nil {
		h.notify(store.KindHook, payload)
	}
}

// Detach unloads the script and releases the session. Safe to call multiple
// times and a no-op if Attach never completed.
func (h *Hooker) Detach() {
	h.mu.Lock()
	script := h.script
	session := h.session
	h.script = nil
	h.session = nil
	h.attachedTo = ""
	h.state = StateIdle
	h.mu.Unlock()

	if script != nil {
		if err := script.Unload(); err != nil {
			fmt.Fprintf(os.Stderr, "hooks: unload script: %v\n", err)
		}
	}
	if session != nil {
		if err := session.Detach(); err != nil {
			fmt.Fprintf(os.Stderr, "hooks: detach session: %v\n", err)
		}
	}
}

// ReplacePayload swaps the hook payload in the active session: the old
// script is unloaded and a new one created and loaded with the same message
// handler. Requires an active session.
func (h *Hooker) ReplacePayload(source string) error {
	h.mu.Lock()
	session := h.session
	old := h.script
	h.mu.Unlock()

	if session == nil {
		return fmt.Errorf("hooks: no active session")
	}

	script, err := session.CreateScript(source, h.OnMessage)
	if err != nil {
		return fmt.Errorf("hooks: create replacement script: %w", err)
	}
	if err := script.Load(); err != nil {
		return fmt.Errorf("hooks: load replacement script: %w", err)
	}
	if old != nil {
		if err := old.Unload(); err != nil {
			fmt.Fprintf(os.Stderr, "hooks: unload previous script: %v\n", err)
		}
	}

	h.mu.Lock()
	h.script = script
	h.payload = source
	h.mu.Unlock()
	return nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
