package debug

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogfVerbosityMapping(t *testing.T) {
	for _, testcase := range []struct {
		name  string
		level slog.Level
		wants int
	}{
		{
			name:  "AllVerbosity",
			level: slog.LevelDebug - 4,
			wants: 3,
		},
		{
			name:  "FramesAndState",
			level: slog.LevelDebug,
			wants: 2,
		},
		{
			name:  "FramesOnly",
			level: slog.LevelInfo,
			wants: 1,
		},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)

			RegisterLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{
				Level: testcase.level,
			}))

			Logf(LevelFrames, "TX (open): %s", "Open{}")
			Logf(LevelState, "connection active")
			Logf(LevelDeliveries, "TX (sender): delivery %d", 0)

			require.Equal(t, testcase.wants, strings.Count(buf.String(), "\n"))
		})
	}
}

func TestLogfDisabledByDefault(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	RegisterLogger(slog.NewJSONHandler(buf, nil))
	RegisterLogger(nil)

	Logf(LevelFrames, "dropped")
	require.Zero(t, buf.Len())
}

func TestAssert(t *testing.T) {
	for _, testcase := range []struct {
		name      string
		condition bool
		wants     bool
	}{
		{
			name:      "ConditionHolds",
			condition: true,
			wants:     false,
		},
		{
			name:      "ConditionBroken",
			condition: false,
			wants:     true,
		},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)

			RegisterLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

			Assert(testcase.condition, "credit went negative on handle %d", 4)

			require.Equal(t, testcase.wants, buf.Len() > 0)
		})
	}
}
