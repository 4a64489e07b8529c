// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"go.uber.org/zap/zapcore"
)

type CallbackFn func(entry zapcore.Entry, fields []zapcore.Field)

// callbackCore is a zapcore.Core which invokes a callback for each enabled entry.
type callbackCore struct {
	zapcore.LevelEnabler
	fields   []zapcore.Field
	callback CallbackFn
}

func NewCallbackCore(callback CallbackFn) zapcore.Core {
	return &callbackCore{LevelEnabler: DebugLevel, callback: callback}
}

func (c *callbackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *callbackCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *callbackCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.callback(entry, append(append([]zapcore.Field{}, c.fields...), fields...))
	return nil
}

func (c *callbackCore) Sync() error {
	return nil
}
