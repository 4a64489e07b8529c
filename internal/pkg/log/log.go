// Package log provides a context-aware structured logger backed by zap.
//
// Attributes stored in the context by the ctxattr package, and attributes added by Logger.With,
// are written as fields of each message. A message can reference an attribute using the
// <attribute.key> placeholder, for example: logger.Info(ctx, `installed requirement "<requirement.key>"`).
package log

import (
	"context"

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
	// Debug logs message in the debug level, you can use an attribute <placeholder> for ctxattr or Logger.With attributes.
	Debug(ctx context.Context, message string)
	// Info logs message in the info level, you can use an attribute <placeholder> for ctxattr or Logger.With attributes.
	Info(ctx context.Context, message string)
	// Warn logs message in the warning level, you can use an attribute <placeholder> for ctxattr or Logger.With attributes.
	Warn(ctx context.Context, message string)
	// Error logs message in the error level, you can use an attribute <placeholder> for ctxattr or Logger.With attributes.
	Error(ctx context.Context, message string)

	Debugf(ctx context.Context, template string, args ...any)
	Infof(ctx context.Context, template string, args ...any)
	Warnf(ctx context.Context, template string, args ...any)
	Errorf(ctx context.Context, template string, args ...any)

	// With returns a logger with additional attributes.
	With(attrs ...attribute.KeyValue) Logger
	// WithComponent returns a logger with the component name, nested components are joined by a dot.
	WithComponent(component string) Logger

	Sync() error
}
