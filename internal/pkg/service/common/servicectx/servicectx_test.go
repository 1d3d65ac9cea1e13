package servicectx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

func TestProcess_Add(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.NewDebugLogger()
	proc, err := New(ctx, cancel, WithLogger(logger), WithUniqueID("<id>"))
	require.NoError(t, err)

	// Do some work, operations run in parallel, sleep determines the completion order to make it testable
	proc.Add(func(ctx context.Context, errCh chan<- error) {
		<-ctx.Done()
		time.Sleep(100 * time.Millisecond)
		logger.Info(ctx, "end1")
	})
	proc.Add(func(ctx context.Context, errCh chan<- error) {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		logger.Info(ctx, "end2")
	})
	proc.Add(func(ctx context.Context, errCh chan<- error) {
		errCh <- errors.New("operation failed")
	})
	proc.OnShutdown(func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		logger.Info(ctx, "onShutdown1")
	})
	proc.OnShutdown(func(ctx context.Context) {
		logger.Info(ctx, "onShutdown2")
	})
	proc.WaitForShutdown()

	// Check logs
	expected := `
INFO  process unique id "<id>"
INFO  exiting (operation failed)
INFO  onShutdown2
INFO  onShutdown1
INFO  end1
INFO  end2
INFO  exited
`
	assert.Equal(t, strings.TrimLeft(expected, "\n"), logger.AllMessages())
}

func TestProcess_OnShutdown_Terminating(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.NewDebugLogger()
	proc, err := New(ctx, cancel, WithLogger(logger), WithUniqueID("<id>"))
	require.NoError(t, err)

	proc.OnShutdown(func(ctx context.Context) {
		proc.OnShutdown(func(ctx context.Context) {
			logger.Info(ctx, "never called")
		})
	})
	proc.Shutdown(errors.New("bye"))
	proc.WaitForShutdown()

	messages := logger.AllMessages()
	assert.Contains(t, messages, "ERROR  cannot register OnShutdown callback: the process is terminating")
	assert.NotContains(t, messages, "never called")
}

func TestProcess_WaitForShutdown_Repeated(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.NewDebugLogger()
	proc, err := New(ctx, cancel, WithLogger(logger), WithUniqueID("<id>"))
	require.NoError(t, err)

	proc.Shutdown(errors.New("first"))
	proc.WaitForShutdown()
	proc.Shutdown(errors.New("second"))
	proc.WaitForShutdown()

	messages := logger.AllMessages()
	assert.Contains(t, messages, "INFO  exiting (first)")
	assert.NotContains(t, messages, "second")
	assert.Error(t, proc.Ctx().Err())
}
