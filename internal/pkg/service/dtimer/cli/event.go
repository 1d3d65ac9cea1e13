package cli

import (
	"context"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keboola/dtimer/internal/pkg/encoding/json"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/config"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/event"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/node"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const (
	delayFlag       = "delay"
	atFlag          = "at"
	idFlag          = "id"
	maxRetriesFlag  = "max-retries"
	noOverwriteFlag = "no-overwrite"
	offsetFlag      = "offset"
	durationFlag    = "duration"
	limitFlag       = "limit"
)

type PostResult struct {
	ID string `json:"id"`
}

type RemoveResult struct {
	Found bool         `json:"found"`
	Event *event.Event `json:"event,omitempty"`
}

type ChangeDelayResult struct {
	Changed bool `json:"changed"`
}

type PeekResult struct {
	Found       bool         `json:"found"`
	Remaining   string       `json:"remaining,omitempty"`
	RemainingMs int64        `json:"remainingMs"`
	Event       *event.Event `json:"event,omitempty"`
}

type UpcomingItem struct {
	ExpireAt time.Time   `json:"expireAt"`
	Event    event.Event `json:"event"`
}

func (c *commands) postCommand() *cobra.Command {
	return c.newCommand(
		"post <payload>",
		"Schedule an event, the payload must be a JSON object.",
		func(fs *pflag.FlagSet) {
			fs.Duration(delayFlag, 0, "Delay of the event.")
			fs.String(atFlag, "", "Due time of the event in the ISO 8601 format, it takes precedence over the delay.")
			fs.String(idFlag, "", "ID of the event, it is generated if empty.")
			fs.Int(maxRetriesFlag, 0, "Retries hint stored with the event.")
			fs.Bool(noOverwriteFlag, false, "Do not replace an existing event with the same ID.")
		},
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			args, err := exactArgs(fs, "payload")
			if err != nil {
				return err
			}

			delay, _ := fs.GetDuration(delayFlag)
			at, _ := fs.GetString(atFlag)
			id, _ := fs.GetString(idFlag)
			maxRetries, _ := fs.GetInt(maxRetriesFlag)
			noOverwrite, _ := fs.GetBool(noOverwriteFlag)

			opts := []node.PostOption{node.WithMaxRetries(maxRetries)}
			if at != "" {
				dueTime, err := iso8601.ParseString(at)
				if err != nil {
					return errors.PrefixErrorf(err, `invalid "--%s" value "%s"`, atFlag, at)
				}
				// The delay is computed by the store clock, not by the local one
				opts = append(opts, node.WithDueTime(dueTime))
			}
			if id != "" {
				opts = append(opts, node.WithEventID(id))
			}
			if noOverwrite {
				opts = append(opts, node.WithoutOverwrite())
			}

			return c.runOperation(ctx, cfg, func(ctx context.Context, n *node.Node) (any, error) {
				id, err := n.Post(ctx, json.RawMessage(args[0]), delay, opts...)
				if err != nil {
					return nil, err
				}
				return PostResult{ID: id}, nil
			})
		},
	)
}

func (c *commands) cancelCommand() *cobra.Command {
	return c.newCommand(
		"cancel <id>",
		"Cancel a pending event.",
		nil,
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			args, err := exactArgs(fs, "id")
			if err != nil {
				return err
			}
			return c.runOperation(ctx, cfg, func(ctx context.Context, n *node.Node) (any, error) {
				ev, err := n.Cancel(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return RemoveResult{Found: ev != nil, Event: ev}, nil
			})
		},
	)
}

func (c *commands) confirmCommand() *cobra.Command {
	return c.newCommand(
		"confirm <id>",
		"Confirm a delivered event, so it is not delivered again.",
		nil,
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			args, err := exactArgs(fs, "id")
			if err != nil {
				return err
			}
			return c.runOperation(ctx, cfg, func(ctx context.Context, n *node.Node) (any, error) {
				ev, err := n.Confirm(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return RemoveResult{Found: ev != nil, Event: ev}, nil
			})
		},
	)
}

func (c *commands) changeDelayCommand() *cobra.Command {
	return c.newCommand(
		"change-delay <id>",
		"Reschedule a pending event to now + delay.",
		func(fs *pflag.FlagSet) {
			fs.Duration(delayFlag, 0, "New delay of the event.")
		},
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			args, err := exactArgs(fs, "id")
			if err != nil {
				return err
			}
			delay, _ := fs.GetDuration(delayFlag)
			return c.runOperation(ctx, cfg, func(ctx context.Context, n *node.Node) (any, error) {
				changed, err := n.ChangeDelay(ctx, args[0], delay)
				if err != nil {
					return nil, err
				}
				return ChangeDelayResult{Changed: changed}, nil
			})
		},
	)
}

func (c *commands) peekCommand() *cobra.Command {
	return c.newCommand(
		"peek <id>",
		"Show a pending event and its remaining time.",
		nil,
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			args, err := exactArgs(fs, "id")
			if err != nil {
				return err
			}
			return c.runOperation(ctx, cfg, func(ctx context.Context, n *node.Node) (any, error) {
				remaining, ev, err := n.Peek(ctx, args[0])
				if err != nil {
					return nil, err
				}
				if ev == nil {
					return PeekResult{}, nil
				}
				return PeekResult{Found: true, Remaining: remaining.String(), RemainingMs: remaining.Milliseconds(), Event: ev}, nil
			})
		},
	)
}

func (c *commands) upcomingCommand() *cobra.Command {
	return c.newCommand(
		"upcoming",
		"List pending events ordered by the due time.",
		func(fs *pflag.FlagSet) {
			fs.Duration(offsetFlag, 0, "Start of the window from now, no lower bound if not set.")
			fs.Duration(durationFlag, 0, "Length of the window, no upper bound if not set.")
			fs.Int(limitFlag, 0, "Maximum number of events, 0 means unlimited.")
		},
		func(ctx context.Context, fs *pflag.FlagSet, cfg config.Config) error {
			if _, err := exactArgs(fs); err != nil {
				return err
			}

			var opts []node.UpcomingOption
			if fs.Changed(offsetFlag) {
				v, _ := fs.GetDuration(offsetFlag)
				opts = append(opts, node.WithOffset(v))
			}
			if fs.Changed(durationFlag) {
				v, _ := fs.GetDuration(durationFlag)
				opts = append(opts, node.WithDuration(v))
			}
			if v, _ := fs.GetInt(limitFlag); v > 0 {
				opts = append(opts, node.WithLimit(v))
			}

			return c.runOperation(ctx, cfg, func(ctx context.Context, n *node.Node) (any, error) {
				upcoming, err := n.Upcoming(ctx, opts...)
				if err != nil {
					return nil, err
				}
				out := make([]UpcomingItem, 0, len(upcoming))
				for _, item := range upcoming {
					out = append(out, UpcomingItem{ExpireAt: item.ExpireAt.UTC(), Event: item.Event})
				}
				return out, nil
			})
		},
	)
}
