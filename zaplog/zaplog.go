// Package zaplog adapts [go.uber.org/zap] to the
// [github.com/joeycumines/go-alivebatch/xlog] logging contract, in the same
// spirit as this module's sibling logging bridges (e.g. logiface-zerolog,
// logiface-logrus) each adapt a single facade to one concrete backend.
package zaplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joeycumines/go-alivebatch/xlog"
)

// Logger adapts a *zap.Logger to [xlog.Logger].
type Logger struct {
	z *zap.Logger
}

// New wraps z. If z is nil, [zap.NewNop] is used.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func (l *Logger) Log(level xlog.Level, category string, msg string, err error, fields ...xlog.Field) {
	zl := l.z.WithOptions(zap.AddCallerSkip(1)).With(zap.String("category", category))

	zfields := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		zfields = append(zfields, zap.Any(f.Key, f.Value))
	}
	if err != nil {
		zfields = append(zfields, zap.Error(err))
	}

	switch level {
	case xlog.LevelDebug:
		zl.Debug(msg, zfields...)
	case xlog.LevelWarn:
		zl.Warn(msg, zfields...)
	case xlog.LevelError:
		zl.Error(msg, zfields...)
	default:
		zl.Log(zapcore.InfoLevel, msg, zfields...)
	}
}
