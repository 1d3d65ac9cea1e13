// Package log provides a context-aware structured logger backed by the zap package.
package log

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
)

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

type Logger interface {
	contextLogger
	withAttributes
}

// DebugLogger returns logs as string in tests.
type DebugLogger interface {
	Logger
	ConnectTo(writer io.Writer)
	Truncate()
	AllMessages() string
	DebugMessages() string
	InfoMessages() string
	WarnMessages() string
	WarnAndErrorMessages() string
	ErrorMessages() string
}

type contextLogger interface {
	// Debug logs message in the debug level.
	Debug(ctx context.Context, message string)
	// Info logs message in the info level.
	Info(ctx context.Context, message string)
	// Warn logs message in the warning level.
	Warn(ctx context.Context, message string)
	// Error logs message in the error level.
	Error(ctx context.Context, message string)

	// Debugf logs formatted message in the debug level.
	Debugf(ctx context.Context, template string, args ...any)
	// Infof logs formatted message in the info level.
	Infof(ctx context.Context, template string, args ...any)
	// Warnf logs formatted message in the warning level.
	Warnf(ctx context.Context, template string, args ...any)
	// Errorf logs formatted message in the error level.
	Errorf(ctx context.Context, template string, args ...any)

	Sync() error
}

type withAttributes interface {
	With(attrs ...attribute.KeyValue) Logger
	WithComponent(component string) Logger
	WithDuration(v time.Duration) Logger
}
