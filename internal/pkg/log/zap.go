// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"context"
	"fmt"

	"github.com/umisama/go-regexpcache"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/keboola/shard-requirements/internal/pkg/ctxattr"
)

const componentKey = "component"

// zapLogger is default implementation of the Logger interface.
type zapLogger struct {
	zap       *zap.Logger
	component string
	attrs     []attribute.KeyValue
}

func loggerFromZapCore(core zapcore.Core) *zapLogger {
	return &zapLogger{zap: zap.New(core)}
}

// NewNopLogger returns a logger that discards all messages.
func NewNopLogger() Logger {
	return loggerFromZapCore(zapcore.NewNopCore())
}

func (l *zapLogger) Debug(ctx context.Context, message string) {
	l.log(ctx, DebugLevel, message)
}

func (l *zapLogger) Info(ctx context.Context, message string) {
	l.log(ctx, InfoLevel, message)
}

func (l *zapLogger) Warn(ctx context.Context, message string) {
	l.log(ctx, WarnLevel, message)
}

func (l *zapLogger) Error(ctx context.Context, message string) {
	l.log(ctx, ErrorLevel, message)
}

func (l *zapLogger) Debugf(ctx context.Context, template string, args ...any) {
	l.log(ctx, DebugLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Infof(ctx context.Context, template string, args ...any) {
	l.log(ctx, InfoLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Warnf(ctx context.Context, template string, args ...any) {
	l.log(ctx, WarnLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Errorf(ctx context.Context, template string, args ...any) {
	l.log(ctx, ErrorLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) With(attrs ...attribute.KeyValue) Logger {
	clone := *l
	clone.attrs = append(append([]attribute.KeyValue{}, l.attrs...), attrs...)
	return &clone
}

func (l *zapLogger) WithComponent(component string) Logger {
	clone := *l
	if clone.component == "" {
		clone.component = component
	} else {
		clone.component += "." + component
	}
	return &clone
}

func (l *zapLogger) Sync() error {
	return l.zap.Sync()
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, message string) {
	set := l.attributes(ctx)
	entry := l.zap.Check(level, replacePlaceholders(message, set))
	if entry == nil {
		return
	}

	fields := make([]zapcore.Field, 0, set.Len()+1)
	if l.component != "" {
		fields = append(fields, zap.String(componentKey, l.component))
	}
	for _, kv := range set.ToSlice() {
		fields = append(fields, zap.Any(string(kv.Key), kv.Value.AsInterface()))
	}
	entry.Write(fields...)
}

// attributes merges logger attributes with context attributes, the context has higher priority.
func (l *zapLogger) attributes(ctx context.Context) attribute.Set {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := append(append([]attribute.KeyValue{}, l.attrs...), ctxattr.Attributes(ctx).ToSlice()...)
	return attribute.NewSet(merged...)
}

func replacePlaceholders(message string, set attribute.Set) string {
	if set.Len() == 0 {
		return message
	}
	return regexpcache.MustCompile(`<[a-zA-Z0-9._-]+>`).ReplaceAllStringFunc(message, func(s string) string {
		if v, ok := set.Value(attribute.Key(s[1 : len(s)-1])); ok {
			return v.Emit()
		}
		return s
	})
}
