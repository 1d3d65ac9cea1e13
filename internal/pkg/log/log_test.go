package log_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/dtimer/internal/pkg/log"
)

func TestServiceLogger_JSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var out strings.Builder
	logger := log.NewServiceLogger(&out, false, log.LogFormatJSON).
		WithComponent("node").
		WithComponent("loop").
		With(attribute.String("node.id", "node1")).
		WithDuration(1500 * time.Millisecond)

	logger.Debug(ctx, "Debug msg")
	logger.Info(ctx, "Info msg")
	logger.Warnf(ctx, "Warn %s", "msg")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"info"`)
	assert.Contains(t, lines[0], `"message":"Info msg"`)
	assert.Contains(t, lines[0], `"component":"node.loop"`)
	assert.Contains(t, lines[0], `"node.id":"node1"`)
	assert.Contains(t, lines[0], `"duration":"1.5s"`)
	assert.Contains(t, lines[1], `"message":"Warn msg"`)
}

func TestServiceLogger_Verbose(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	logger := log.NewServiceLogger(&out, true, log.LogFormatConsole)
	logger.Debug(context.Background(), "Debug msg")
	assert.Contains(t, out.String(), "DEBUG  Debug msg")
}

func TestDebugLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := log.NewDebugLogger()
	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Errorf(ctx, "error %d", 1)
	assert.Equal(t, "DEBUG  debug\nINFO  info\nWARN  warn\nERROR  error 1\n", logger.AllMessages())
	assert.Empty(t, logger.AllMessages())

	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")
	assert.Equal(t, "WARN  warn\nERROR  error\n", logger.WarnAndErrorMessages())
	assert.Empty(t, logger.InfoMessages())
}

func TestNewLogFormat(t *testing.T) {
	t.Parallel()

	format, err := log.NewLogFormat("json")
	require.NoError(t, err)
	assert.Equal(t, log.LogFormatJSON, format)

	format, err = log.NewLogFormat("foo")
	require.Error(t, err)
	assert.Equal(t, log.LogFormatConsole, format)
}
