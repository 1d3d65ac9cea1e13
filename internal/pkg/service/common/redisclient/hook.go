package redisclient

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

// debugHook logs each command as a debug message.
type debugHook struct {
	logger log.Logger
}

func newDebugHook(logger log.Logger) redis.Hook {
	return &debugHook{logger: logger}
}

func (h *debugHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Debugf(ctx, `dial "%s" failed: %s`, addr, err)
		}
		return conn, err
	}
}

func (h *debugHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		startTime := time.Now()
		err := next(ctx, cmd)
		h.logger.WithDuration(time.Since(startTime)).Debugf(ctx, "redis cmd %s", formatCmd(cmd))
		return err
	}
}

func (h *debugHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		startTime := time.Now()
		err := next(ctx, cmds)
		logger := h.logger.WithDuration(time.Since(startTime))
		for _, cmd := range cmds {
			logger.Debugf(ctx, "redis pipeline cmd %s", formatCmd(cmd))
		}
		return err
	}
}

func formatCmd(cmd redis.Cmder) string {
	if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return cmd.String() + " | error: " + err.Error()
	}
	return cmd.String()
}
