package errors

import (
	"fmt"
	"strings"
)

const (
	indent = "  "
	bullet = "- "

	// inlineLimit is the max length of "prefix: error" printed on a single line.
	inlineLimit = 60
)

// writer renders an error tree to a string.
type writer struct {
	config FormatConfig
	out    strings.Builder
}

func (w *writer) error(level int, err error, trace StackTrace) {
	if err == nil {
		panic(Errorf("error cannot be nil"))
	}

	if v, ok := err.(stackTracer); ok { // nolint: errorlint
		trace = v.StackTrace()
	} else if trace == nil {
		var tracer stackTracer
		if As(err, &tracer) {
			trace = tracer.StackTrace()
		}
	}

	// nolint: errorlint
	switch v := err.(type) {
	case *withStack:
		w.error(level, v.Unwrap(), trace)
	case nestedErrorGetter:
		w.nested(level, v.MainError(), v.WrappedErrors(), trace)
	case multiErrorGetter:
		w.list(level, v.WrappedErrors())
	default:
		msg := formatMessage(v.Error(), trace, w.config)
		if cause := Unwrap(v); cause != nil && w.config.WithUnwrap {
			w.write(formatPrefix(msg), "\n", strings.Repeat(indent, level), bullet, fmt.Sprintf("%T >>> ", err))
			w.error(level+1, cause, nil)
			return
		}

		// Align continuation lines of a multi-line message.
		lines := strings.Split(msg, "\n")
		w.write(lines[0])
		for _, line := range lines[1:] {
			w.write("\n", strings.Repeat(indent, level), line)
		}
	}
}

func (w *writer) nested(level int, main error, errs []error, trace StackTrace) {
	mainStr := w.sub(func(s *writer) { s.error(level, main, trace) })
	if len(errs) == 0 {
		w.write(mainStr)
		return
	}

	prefix := formatPrefix(mainStr)
	subStr := w.sub(func(s *writer) { s.list(level, errs) })
	w.write(prefix)

	switch {
	case len(errs) > 1:
		w.write("\n")
		w.list(level, errs)
	case len(prefix)+len(subStr) > inlineLimit || strings.Contains(subStr, "\n"):
		w.write("\n", strings.Repeat(indent, level), bullet)
		w.error(level+1, errs[0], nil)
	default:
		w.write(" ", subStr)
	}
}

func (w *writer) list(level int, errs []error) {
	bullets := len(errs) > 1
	for i, err := range errs {
		if i > 0 {
			w.write("\n")
		}
		if bullets {
			w.write(strings.Repeat(indent, level), bullet)
		}
		w.error(level+1, err, nil)
	}
}

func (w *writer) sub(fn func(s *writer)) string {
	s := &writer{config: w.config}
	fn(s)
	return s.out.String()
}

func (w *writer) write(parts ...string) {
	for _, p := range parts {
		_, _ = w.out.WriteString(p)
	}
}
