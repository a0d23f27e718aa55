// File: internal/driver/sink.go
package driver

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

var _ schemas.InputSink = (*DryRunSink)(nil)

// DryRunSink logs every synthetic input event instead of delivering it.
// It always accepts and stays connected until Disconnect is called, which
// lets tests exercise the fatal dispatch path.
type DryRunSink struct {
	logger       *zap.Logger
	disconnected atomic.Bool
}

// NewDryRunSink creates a logging sink.
func NewDryRunSink(logger *zap.Logger) *DryRunSink {
	return &DryRunSink{
		logger: logger.With(zap.String("component", "dry_run_sink")),
	}
}

// Disconnect flips the sink into the disconnected state.
func (s *DryRunSink) Disconnect() { s.disconnected.Store(true) }

// Connected reports whether the sink still accepts input.
func (s *DryRunSink) Connected() bool { return !s.disconnected.Load() }

func (s *DryRunSink) SendKey(code string, down bool) bool {
	if !s.Connected() {
		return false
	}
	s.logger.Info("key", zap.String("code", code), zap.Bool("down", down))
	return true
}

func (s *DryRunSink) SendText(text string) bool {
	if !s.Connected() {
		return false
	}
	s.logger.Info("text", zap.Int("chars", len(text)))
	return true
}

func (s *DryRunSink) MoveMouse(x, y int) bool {
	if !s.Connected() {
		return false
	}
	s.logger.Info("mouse_move", zap.Int("x", x), zap.Int("y", y))
	return true
}

func (s *DryRunSink) SendMouseButton(x, y int, button schemas.MouseButton, down bool) bool {
	if !s.Connected() {
		return false
	}
	s.logger.Info("mouse_button",
		zap.Int("x", x), zap.Int("y", y),
		zap.String("button", string(button)), zap.Bool("down", down))
	return true
}

func (s *DryRunSink) SendWheel(delta int) bool {
	if !s.Connected() {
		return false
	}
	s.logger.Info("mouse_wheel", zap.Int("delta", delta))
	return true
}
