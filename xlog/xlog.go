// Package xlog defines the structured logging contract injected into the
// components of go-alivebatch. It is deliberately small: callers wire in
// whatever backend they like (see [github.com/joeycumines/go-alivebatch/zaplog]
// for a go.uber.org/zap binding), or fall back to [Nop].
package xlog

// Level identifies the severity of a log entry.
type Level int8

const (
	LevelDebug Level = iota
	LevelWarn
	LevelError
)

// String returns a human-readable name for l.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// F is a convenience constructor for a [Field].
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the contract every component in this module logs through.
// Implementations must tolerate a nil *error* Field value and must not
// panic on any input.
type Logger interface {
	// Log emits a single entry at the given level, with an optional error
	// and structured fields. Implementations that don't support a given
	// level should simply discard the entry.
	Log(level Level, category string, msg string, err error, fields ...Field)
}

// Debug is a convenience wrapper around Logger.Log at [LevelDebug].
func Debug(l Logger, category, msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.Log(LevelDebug, category, msg, nil, fields...)
}

// Warn is a convenience wrapper around Logger.Log at [LevelWarn].
func Warn(l Logger, category, msg string, err error, fields ...Field) {
	if l == nil {
		return
	}
	l.Log(LevelWarn, category, msg, err, fields...)
}

// Error is a convenience wrapper around Logger.Log at [LevelError].
func Error(l Logger, category, msg string, err error, fields ...Field) {
	if l == nil {
		return
	}
	l.Log(LevelError, category, msg, err, fields...)
}

// Nop is a [Logger] that discards everything. It is the default used by
// every component when no Logger is configured.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Log(Level, string, string, error, ...Field) {}

// OrNop returns l if non-nil, or [Nop] otherwise. Components use this to
// avoid nil-checking their configured logger at every call site.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop
	}
	return l
}
