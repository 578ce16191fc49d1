// Package logger provides the application's leveled logging facade.
// It supports three levels: off (no output), normal (info/warn/error),
// and verbose (includes debug), backed by charmbracelet/log.
package logger

import (
	"io"
	"os"

	charm "github.com/charmbracelet/log"
)

// Level controls the verbosity of the logger.
type Level int

const (
	// LevelOff disables all log output.
	LevelOff Level = iota
	// LevelNormal enables info, warn, and error output.
	LevelNormal
	// LevelVerbose enables all output including debug.
	LevelVerbose
)

// Logger is a leveled logger. All methods are safe for concurrent use.
type Logger struct {
	l *charm.Logger
}

// New creates a logger with the given level, writing to the given output.
// If out is nil, os.Stderr is used.
func New(level Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	if level == LevelOff {
		out = io.Discard
	}

	l := charm.NewWithOptions(out, charm.Options{
		ReportTimestamp: true,
	})
	if level >= LevelVerbose {
		l.SetLevel(charm.DebugLevel)
	} else {
		l.SetLevel(charm.InfoLevel)
	}
	return &Logger{l: l}
}

// Debug logs a message at debug level (only visible in verbose mode).
func (l *Logger) Debug(format string, args ...any) {
	l.l.Debugf(format, args...)
}

// Info logs a message at info level.
func (l *Logger) Info(format string, args ...any) {
	l.l.Infof(format, args...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(format string, args ...any) {
	l.l.Warnf(format, args...)
}

// Error logs a message at error level.
func (l *Logger) Error(format string, args ...any) {
	l.l.Errorf(format, args...)
}
