package snn

import (
	"context"
	"log/slog"
)

// LevelTrace sits one step above Info, so a handler at the default Info
// level prints trace records; a handler at Warn or above hides them.
const LevelTrace slog.Level = slog.LevelInfo + 1

// Trace emits a trace-level structured log record.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}
