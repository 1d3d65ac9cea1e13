// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"go.uber.org/zap/zapcore"
)

type CallbackFn func(entry zapcore.Entry, fields []zapcore.Field)

// callbackCore invokes the callback for each log entry, all levels are enabled.
type callbackCore struct {
	fn     CallbackFn
	fields []zapcore.Field
}

func NewCallbackCore(fn CallbackFn) zapcore.Core {
	return &callbackCore{fn: fn}
}

func (c *callbackCore) Enabled(zapcore.Level) bool {
	return true
}

func (c *callbackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &callbackCore{fn: c.fn}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *callbackCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return checked.AddCore(entry, c)
}

func (c *callbackCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	c.fn(entry, all)
	return nil
}

func (c *callbackCore) Sync() error {
	return nil
}
