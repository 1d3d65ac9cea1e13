// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap/zapcore"
)

// NewServiceLogger creates a logger for a long-running service process.
// Debug messages are logged only if verbose is true.
func NewServiceLogger(w io.Writer, verbose bool, format LogFormat) Logger {
	level := InfoLevel
	if verbose {
		level = DebugLevel
	}
	return loggerFromZapCore(zapcore.NewCore(newEncoder(format, isTerminal(w)), zapcore.Lock(zapcore.AddSync(w)), level))
}

// NewNopLogger returns a logger which discards all messages.
func NewNopLogger() Logger {
	return loggerFromZapCore(zapcore.NewNopCore())
}

func newEncoder(format LogFormat, colored bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if format == LogFormatJSON {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if colored {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.ConsoleSeparator = "  "
	return zapcore.NewConsoleEncoder(cfg)
}

// isTerminal returns true if the writer is a terminal, then the console log levels are colored.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
