// Package debug carries the engine's wire-level trace: performative
// sends/receives, endpoint state transitions, and per-delivery detail.
// Tracing is off by default; RegisterLogger routes it to an application
// supplied slog.Handler.
package debug

import (
	"context"
	"fmt"
	"log/slog"
)

// Engine trace verbosity. Logf maps these onto slog levels so a handler's
// own level filter controls how much of the wire it sees.
const (
	LevelFrames     = 1 // connection/session/link performatives
	LevelState      = 2 // endpoint state transitions
	LevelDeliveries = 3 // per-transfer and per-disposition detail
)

var logger = slog.New(disabled{})

// RegisterLogger routes engine tracing to h. Passing nil restores the
// default disabled handler.
func RegisterLogger(h slog.Handler) {
	if h == nil {
		logger = slog.New(disabled{})
		return
	}
	logger = slog.New(h)
}

// Logf formats and emits one trace line at the given engine verbosity:
// LevelFrames surfaces as slog Info, LevelState as Debug, and
// LevelDeliveries below Debug.
func Logf(level int, format string, args ...interface{}) {
	var lvl slog.Level
	switch {
	case level <= LevelFrames:
		lvl = slog.LevelInfo
	case level == LevelState:
		lvl = slog.LevelDebug
	default:
		lvl = slog.LevelDebug - 4
	}
	if !logger.Enabled(context.Background(), lvl) {
		return
	}
	logger.Log(context.Background(), lvl, fmt.Sprintf(format, args...))
}

// Assert emits an error-level trace line when condition is false. The
// engine logs broken invariants rather than panicking inside a mux.
func Assert(condition bool, format string, args ...interface{}) {
	if !condition {
		logger.Log(context.Background(), slog.LevelError, "assertion failed: "+fmt.Sprintf(format, args...))
	}
}

// disabled is the default handler: every event is dropped before any
// formatting work happens.
type disabled struct{}

func (disabled) Enabled(context.Context, slog.Level) bool  { return false }
func (disabled) Handle(context.Context, slog.Record) error { return nil }
func (d disabled) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d disabled) WithGroup(string) slog.Handler           { return d }
