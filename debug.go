package amqp

import (
	"log/slog"

	"github.com/tabish121/AMQPerative/internal/debug"
)

// RegisterLogger configures the library's debug logger with the input slog.Handler h.
//
// By default, the debug logger uses a disabled handler and doesn't produce
// any log events. Passing nil restores that default.
func RegisterLogger(h slog.Handler) {
	debug.RegisterLogger(h)
}

// logf emits a wire-level trace message through the registered debug
// logger. level follows the engine's verbosity numbering (debug.LevelFrames,
// debug.LevelState, debug.LevelDeliveries).
func logf(level int, format string, args ...interface{}) {
	debug.Logf(level, format, args...)
}
