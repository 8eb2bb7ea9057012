// Package hooks manages an instrumentation session against a target process
// and converts its asynchronous message stream into stored hook events. The
// engine that actually injects code is an external collaborator plugged in
// behind the interfaces below.
package hooks

import (
	"context"
	"errors"
	"time"
)

// ErrAttach marks device lookup, attach, or spawn failures. Terminal for
// that Attach call; callers decide whether to retry.
var ErrAttach = errors.New("attach failed")

// ErrProcessNotFound is returned by Device.Attach when the named process
// does not exist. During fallback iteration it is non-fatal and advances to
// the next candidate; every other attach error is terminal.
var ErrProcessNotFound = errors.New("process not found")

// Message is one delivery from the injected hooks. Type "send" carries a
// structured payload; type "error" carries a stack from the hook code.
type Message struct {
	Type    string
	Payload map[string]any
	Stack   string
}

// MessageHandler receives messages on the engine's own delivery context.
type MessageHandler func(msg Message)

// DeviceFinder locates an instrumentation-capable device.
type DeviceFinder interface {
	FindDevice(ctx context.Context, timeout time.Duration) (Device, error)
}

// Device is one instrumentation-capable device.
type Device interface {
	Attach(name string) (Session, error)
	AttachPID(pid int) (Session, error)
	Spawn(name string) (int, error)
	Resume(pid int) error
}

// Session is a controlling session against one process.
type Session interface {
	CreateScript(source string, handler MessageHandler) (Script, error)
	Detach() error
}

// Script is a loaded hook payload inside the target process.
type Script interface {
	Load() error
	Unload() error
}

// UnavailableFinder is the DeviceFinder used when no instrumentation engine
// is linked into the build. Every lookup fails with the configured reason,
// which the orchestrator treats as reduced-capability mode.
type UnavailableFinder struct {
	Reason string
}

// FindDevice always fails.
func (f UnavailableFinder) FindDevice(ctx context.Context, timeout time.Duration) (Device, error) {
	reason := f.Reason
	if reason == "" {
		reason = "no instrumentation engine linked"
	}
	return nil, errors.New(reason)
}
