// File: api/schemas/interfaces.go
// Capability interfaces the core consumes but does not implement. Concrete
// OS-level implementations (hook installation, native capture) live outside
// this repository; internal/driver ships reference implementations for
// dry-runs and tests.
package schemas

import "context"

// ScreenCapturer is the frame acquisition capability. Implementations must be
// safe to call from the perception service's goroutine.
type ScreenCapturer interface {
	// CaptureRegion grabs the given screen region. A zero region captures the
	// whole primary display.
	CaptureRegion(ctx context.Context, region Region) (*Frame, error)
	// CaptureWindow grabs a window's content, optionally restricted to a
	// region in window-local coordinates.
	CaptureWindow(ctx context.Context, handle string, region *Region) (*Frame, error)
	// ListWindows enumerates candidate target windows.
	ListWindows(ctx context.Context) ([]WindowInfo, error)
}

// InputSink is the synthetic input capability. Every call may fail by
// returning false without panicking; the dispatcher treats false as a
// recoverable per-action failure. Connected distinguishes the fatal case:
// once it reports false the session must stop.
type InputSink interface {
	SendKey(code string, down bool) bool
	SendText(text string) bool
	MoveMouse(x, y int) bool
	SendMouseButton(x, y int, button MouseButton, down bool) bool
	SendWheel(delta int) bool
	Connected() bool
}

// ScriptStore is the persistence capability for authoring-time artifacts.
// It is exercised only at session start/stop, never on the hot loop.
type ScriptStore interface {
	SaveScript(ctx context.Context, s *Script) error
	GetScript(ctx context.Context, name string) (*Script, error)
	ListScripts(ctx context.Context) ([]*Script, error)
	DeleteScript(ctx context.Context, name string) error

	SaveTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, name string) (*Template, error)
	DeleteTemplate(ctx context.Context, name string) error

	SaveMachine(ctx context.Context, m *MachineSpec) error
	GetMachine(ctx context.Context, id string) (*MachineSpec, error)
	DeleteMachine(ctx context.Context, id string) error

	Close() error
}
