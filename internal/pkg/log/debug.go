// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

type debugLogger struct {
	*zapLogger
	store *debugStore
}

type debugStore struct {
	lock    *sync.Mutex
	entries []zapcore.Entry
	writers []io.Writer
}

// NewDebugLogger creates a logger which stores all messages in memory, it is used in tests.
func NewDebugLogger() DebugLogger {
	store := &debugStore{lock: &sync.Mutex{}}
	core := NewCallbackCore(store.add)
	return &debugLogger{zapLogger: loggerFromZapCore(core), store: store}
}

// ConnectTo copies all next messages to the writer, for example os.Stdout for debugging.
func (l *debugLogger) ConnectTo(writer io.Writer) {
	l.store.lock.Lock()
	defer l.store.lock.Unlock()
	l.store.writers = append(l.store.writers, writer)
}

func (l *debugLogger) Truncate() {
	l.store.lock.Lock()
	defer l.store.lock.Unlock()
	l.store.entries = nil
}

// AllMessages returns all messages and truncates the logger.
func (l *debugLogger) AllMessages() string {
	return l.store.flush(func(zapcore.Level) bool { return true })
}

func (l *debugLogger) DebugMessages() string {
	return l.store.flush(func(v zapcore.Level) bool { return v == DebugLevel })
}

func (l *debugLogger) InfoMessages() string {
	return l.store.flush(func(v zapcore.Level) bool { return v == InfoLevel })
}

func (l *debugLogger) WarnMessages() string {
	return l.store.flush(func(v zapcore.Level) bool { return v == WarnLevel })
}

func (l *debugLogger) WarnAndErrorMessages() string {
	return l.store.flush(func(v zapcore.Level) bool { return v == WarnLevel || v == ErrorLevel })
}

func (l *debugLogger) ErrorMessages() string {
	return l.store.flush(func(v zapcore.Level) bool { return v == ErrorLevel })
}

func (s *debugStore) add(entry zapcore.Entry, _ []zapcore.Field) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = append(s.entries, entry)
	for _, w := range s.writers {
		_, _ = fmt.Fprintln(w, formatEntry(entry))
	}
}

func (s *debugStore) flush(filter func(zapcore.Level) bool) string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out strings.Builder
	for _, entry := range s.entries {
		if filter(entry.Level) {
			out.WriteString(formatEntry(entry))
			out.WriteString("\n")
		}
	}
	s.entries = nil
	return out.String()
}

func formatEntry(entry zapcore.Entry) string {
	return fmt.Sprintf("%s  %s", entry.Level.CapitalString(), entry.Message)
}
