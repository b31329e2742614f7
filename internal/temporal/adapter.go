// Package temporal bridges the service's zap logging into the Temporal
// SDK so client and worker internals log through the same pipeline as
// everything else.
package temporal

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger adapts zap to the SDK's keyval-style logging interface. The
// sugared logger takes the SDK's loose key-value pairs directly; the
// caller-skip keeps call sites pointing at SDK code instead of here.
type Logger struct {
	base *zap.SugaredLogger
}

// NewLogger wraps a zap logger for handing to client.Options.Logger.
func NewLogger(base *zap.Logger) log.Logger {
	return &Logger{base: base.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.base.Debugw(msg, keyvals...)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.base.Infow(msg, keyvals...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.base.Warnw(msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.base.Errorw(msg, keyvals...)
}

// With returns a child logger carrying the given pairs on every entry.
func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{base: l.base.With(keyvals...)}
}
