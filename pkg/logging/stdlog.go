package logging

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// LevelFunc picks the level a bridged line is logged at.
type LevelFunc func(line string) Level

// FixedLevel logs every line at l.
func FixedLevel(l Level) LevelFunc {
	return func(string) Level { return l }
}

// LineHook observes each line written to a bridged standard logger.
type LineHook func(line string)

// stdWriter turns standard logger output into slog records.
type stdWriter struct {
	logger *slog.Logger
	level  LevelFunc
	hooks  []LineHook
}

func (w *stdWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	for _, hook := range w.hooks {
		hook(line)
	}
	w.logger.Log(context.Background(), w.level(line), line)
	return len(p), nil
}

// NewStdLogger returns a *log.Logger whose output is logged to logger at
// the level chosen by level. Hooks see every line before it is logged.
func NewStdLogger(logger *slog.Logger, level LevelFunc, hooks ...LineHook) *log.Logger {
	if logger == nil {
		logger = Nop()
	}
	if level == nil {
		level = FixedLevel(LevelError)
	}
	return log.New(&stdWriter{logger: logger, level: level, hooks: hooks}, "", 0)
}
