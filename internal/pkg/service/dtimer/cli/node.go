package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/metric"

	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/servicectx"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/config"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/event"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/node"
	"github.com/keboola/dtimer/internal/pkg/telemetry"
	"github.com/keboola/dtimer/internal/pkg/telemetry/prometheus"
)

const autoConfirmFlag = "auto-confirm"

func (c *commands) nodeCommand() *cobra.Command {
	return c.newCommand(
		"node",
		"Run a scheduler node, delivered events are written to stdout as JSON lines.",
		func(fs *pflag.FlagSet) {
			fs.Bool(autoConfirmFlag, true, "Confirm each event after it is written to stdout.")
		},
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			autoConfirm, _ := fs.GetBool(autoConfirmFlag)
			return c.runNode(ctx, cfg, autoConfirm)
		},
	)
}

func (c *commands) runNode(ctx context.Context, cfg config.Config, autoConfirm bool) error {
	s, err := c.start(ctx, cfg, func(proc *servicectx.Process, logger log.Logger) (telemetry.Telemetry, error) {
		var meterProvider metric.MeterProvider
		if cfg.Metrics.Listen != "" {
			provider, err := prometheus.ServeMetrics(ctx, ServiceName, cfg.Metrics, logger, proc)
			if err != nil {
				return nil, err
			}
			meterProvider = provider
		}
		return telemetry.New(nil, meterProvider), nil
	})
	if err != nil {
		return err
	}

	logger := s.logger
	client := s.scope.RedisClient()

	var n *node.Node
	opts := []node.Option{
		node.WithConfig(cfg.Node),
		node.WithEventHandler(func(ctx context.Context, ev event.Event) {
			if err := c.writeJSON(ev, false); err != nil {
				logger.Errorf(ctx, `cannot write event "%s": %s`, ev.ID, err)
				return
			}
			if autoConfirm {
				if _, err := n.Confirm(ctx, ev.ID); err != nil {
					logger.Errorf(ctx, `cannot confirm event "%s": %s`, ev.ID, err)
				}
			}
		}),
		node.WithErrorHandler(func(ctx context.Context, err error) {
			logger.Warnf(ctx, "%s", err)
		}),
	}
	if cfg.NodeID != "" {
		opts = append(opts, node.WithNodeID(cfg.NodeID))
	}

	n, err = node.New(s.scope, client, client, opts...)
	if err != nil {
		stop(s.proc, err)
		return err
	}

	if err := n.Join(ctx); err != nil {
		stop(s.proc, err)
		return err
	}

	// Leave before the Redis client is closed, callbacks are invoked in LIFO order
	s.proc.OnShutdown(func(ctx context.Context) {
		if err := n.Leave(ctx); err != nil {
			logger.Errorf(ctx, "cannot leave: %s", err)
		}
	})

	logger.Infof(ctx, `node "%s" is running, max events %d`, n.ID(), n.MaxEvents())
	s.proc.WaitForShutdown()
	return nil
}
