// Package cli provides the "dtimer" command line interface.
//
// The "node" command runs a long-running scheduler node, other commands manipulate events and exit.
// All commands share the service configuration, see the config package.
package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keboola/dtimer/internal/pkg/encoding/json"
	"github.com/keboola/dtimer/internal/pkg/env"
	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/configmap"
	"github.com/keboola/dtimer/internal/pkg/service/common/servicectx"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/config"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/dependencies"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/node"
	"github.com/keboola/dtimer/internal/pkg/telemetry"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const ServiceName = "dtimer"

// ScopeFactory creates dependencies of a command, it is replaced in tests.
type ScopeFactory func(ctx context.Context, cfg config.Config, proc *servicectx.Process, logger log.Logger, tel telemetry.Telemetry) (dependencies.ServiceScope, error)

type commands struct {
	stdout   io.Writer
	stderr   io.Writer
	envs     env.Provider
	newScope ScopeFactory
	outLock  *sync.Mutex
}

// session holds dependencies of a running command.
type session struct {
	cfg    config.Config
	logger log.Logger
	proc   *servicectx.Process
	scope  dependencies.ServiceScope
}

// NewRootCommand creates parent of all sub-commands.
func NewRootCommand(stdout, stderr io.Writer, envs env.Provider, newScope ScopeFactory) *cobra.Command {
	if newScope == nil {
		newScope = dependencies.NewServiceScope
	}

	c := &commands{stdout: stdout, stderr: stderr, envs: envs, newScope: newScope, outLock: &sync.Mutex{}}
	root := &cobra.Command{
		Use:           "dtimer",
		Short:         "Distributed delayed-event scheduler backed by Redis.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		c.nodeCommand(),
		c.postCommand(),
		c.cancelCommand(),
		c.confirmCommand(),
		c.changeDelayCommand(),
		c.peekCommand(),
		c.upcomingCommand(),
	)
	return root
}

// newCommand creates a sub-command, flags are parsed together with the service configuration.
func (c *commands) newCommand(use, short string, defineFlags func(fs *pflag.FlagSet), run func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := pflag.NewFlagSet(cmd.CommandPath(), pflag.ContinueOnError)
			if defineFlags != nil {
				defineFlags(fs)
			}

			cfg, err := config.BindWithFlags(cmd.CommandPath(), args, c.envs, fs)
			var helpErr configmap.HelpError
			if errors.As(err, &helpErr) {
				_, err = fmt.Fprint(c.stdout, helpErr.Help)
				return err
			} else if err != nil {
				return err
			}

			return run(cmd.Context(), fs, cfg)
		},
	}
}

// start creates the process and the dependencies.
func (c *commands) start(ctx context.Context, cfg config.Config, tel func(proc *servicectx.Process, logger log.Logger) (telemetry.Telemetry, error)) (*session, error) {
	logger := log.NewServiceLogger(c.stderr, cfg.DebugLog, cfg.LogFormatValue()).WithComponent(ServiceName)

	// The process context is cancelled on the shutdown, after the OnShutdown callbacks
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var procOpts []servicectx.Option
	procOpts = append(procOpts, servicectx.WithLogger(logger))
	if cfg.NodeID != "" {
		procOpts = append(procOpts, servicectx.WithUniqueID(cfg.NodeID))
	}
	proc, err := servicectx.New(procCtx, cancel, procOpts...)
	if err != nil {
		cancel()
		return nil, err
	}

	// Stop the process, if the command context is cancelled
	proc.Add(func(procCtx context.Context, errCh chan<- error) {
		select {
		case <-procCtx.Done():
		case <-ctx.Done():
			select {
			case errCh <- errors.New("command cancelled"):
			case <-procCtx.Done():
			}
		}
	})

	t, err := tel(proc, logger)
	if err != nil {
		stop(proc, err)
		return nil, err
	}

	scope, err := c.newScope(ctx, cfg, proc, logger, t)
	if err != nil {
		stop(proc, err)
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, proc: proc, scope: scope}, nil
}

// runOperation runs a one-shot operation with a post-only node, the result is written to stdout as JSON.
func (c *commands) runOperation(ctx context.Context, cfg config.Config, fn func(ctx context.Context, n *node.Node) (any, error)) (err error) {
	s, err := c.start(ctx, cfg, func(*servicectx.Process, log.Logger) (telemetry.Telemetry, error) {
		return telemetry.NewNop(), nil
	})
	if err != nil {
		return err
	}
	defer stop(s.proc, errors.New("operation finished"))

	n, err := node.New(s.scope, s.scope.RedisClient(), nil, node.WithConfig(cfg.Node), node.WithErrorHandler(func(ctx context.Context, err error) {
		s.logger.Warnf(ctx, "%s", err)
	}))
	if err != nil {
		return err
	}

	result, err := fn(ctx, n)
	if err != nil {
		return err
	}

	return c.writeJSON(result, true)
}

func (c *commands) writeJSON(v any, pretty bool) error {
	bytes, err := json.Encode(v, pretty)
	if err != nil {
		return err
	}

	c.outLock.Lock()
	defer c.outLock.Unlock()
	_, err = fmt.Fprintln(c.stdout, string(bytes))
	return err
}

func stop(proc *servicectx.Process, reason error) {
	proc.Shutdown(reason)
	proc.WaitForShutdown()
}

// exactArgs returns the positional arguments, if their count matches.
func exactArgs(flags *pflag.FlagSet, names ...string) ([]string, error) {
	args := flags.Args()
	if len(args) != len(names) {
		return nil, errors.Errorf("expected %d argument(s) %v, found %d", len(names), names, len(args))
	}
	return args, nil
}
