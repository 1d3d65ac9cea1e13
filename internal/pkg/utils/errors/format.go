package errors

import (
	"fmt"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"
)

type FormatConfig struct {
	WithStack   bool
	WithUnwrap  bool
	AsSentences bool
}

type FormatOption func(c *FormatConfig)

// FormatWithStack adds the place where the error was created to each message.
func FormatWithStack() FormatOption {
	return func(c *FormatConfig) {
		c.WithStack = true
	}
}

// FormatWithUnwrap prints also errors wrapped by the Wrap function.
func FormatWithUnwrap() FormatOption {
	return func(c *FormatConfig) {
		c.WithUnwrap = true
	}
}

// FormatAsSentences converts each message to a sentence: first letter uppercase, dot at the end.
func FormatAsSentences() FormatOption {
	return func(c *FormatConfig) {
		c.AsSentences = true
	}
}

func Format(err error, opts ...FormatOption) string {
	w := &writer{}
	for _, o := range opts {
		o(&w.config)
	}
	w.error(0, err, nil)
	return w.out.String()
}

// FormatWithDebug output includes also errors stack traces and unwrapped errors.
func FormatWithDebug(err error) string {
	return Format(err, FormatWithStack(), FormatWithUnwrap())
}

func formatMessage(msg string, trace StackTrace, config FormatConfig) string {
	if config.AsSentences {
		msg = sentence(msg)
	}
	if config.WithStack && len(trace) > 0 {
		frame := trace[0]
		if fn := runtime.FuncForPC(frame); fn != nil {
			file, line := fn.FileLine(frame)
			msg = fmt.Sprintf("%s [%s:%d]", msg, file, line)
		}
	}
	return msg
}

func formatPrefix(prefix string) string {
	return strings.TrimRight(prefix, ".,:") + ":"
}

func sentence(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return msg
	}
	r, size := utf8.DecodeRuneInString(msg)
	msg = string(unicode.ToUpper(r)) + msg[size:]
	if !strings.HasSuffix(msg, ".") && !strings.HasSuffix(msg, ":") {
		msg += "."
	}
	return msg
}
