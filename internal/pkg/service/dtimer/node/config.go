package node

import (
	"context"
	"time"

	"github.com/keboola/dtimer/internal/pkg/service/dtimer/event"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/schema"
)

const (
	DefaultMaxEvents     = 8
	DefaultRetryInterval = 3 * time.Second
	DefaultReadyTimeout  = 30 * time.Second
	PostOnlyNodeID       = "post-only"
)

// Config of the node, it is a part of the service configuration.
type Config struct {
	Namespace      string        `configKey:"namespace" configUsage:"Prefix of all Redis keys." validate:"required"`
	MaxEvents      int           `configKey:"maxEvents" configUsage:"Maximum number of events harvested by the node at once." validate:"min=1,max=10000"`
	ConfirmTimeout time.Duration `configKey:"confirmTimeout" configUsage:"Time to confirm a harvested event, then it is delivered again." validate:"required,minDuration=100ms,maxDuration=24h"`
	MaxInterval    time.Duration `configKey:"maxInterval" configUsage:"Maximum sleep of an idle node." validate:"required,minDuration=100ms,maxDuration=1h"`
	RetryInterval  time.Duration `configKey:"retryInterval" configUsage:"Sleep of the node after a failed harvest." validate:"required,minDuration=10ms,maxDuration=1m"`
	ReadyTimeout   time.Duration `configKey:"readyTimeout" configUsage:"Timeout for loading of the Redis scripts." validate:"required,minDuration=100ms,maxDuration=5m"`
	SequentialIDs  bool          `configKey:"sequentialIds" configUsage:"Generate numeric event IDs from a Redis counter instead of UUIDs."`
}

// EventHandler is called for each harvested event, from the node loop goroutine.
// The handler should confirm the event, see Node.Confirm.
// Leave called with the handler context returns ErrLeaveFromHandler, Leave waits for the running batch.
type EventHandler func(ctx context.Context, ev event.Event)

// ErrorHandler is called for errors which are not returned to any caller.
type ErrorHandler func(ctx context.Context, err error)

type Option func(c *config)

type config struct {
	Config
	nodeID       string
	nodeIDSet    bool
	eventHandler EventHandler
	errorHandler ErrorHandler
}

func NewConfig() Config {
	return Config{
		Namespace:      schema.DefaultNamespace,
		MaxEvents:      DefaultMaxEvents,
		ConfirmTimeout: schema.DefaultConfirmTimeout,
		MaxInterval:    schema.DefaultMaxInterval,
		RetryInterval:  DefaultRetryInterval,
		ReadyTimeout:   DefaultReadyTimeout,
	}
}

func newConfig(opts []Option) config {
	c := config{Config: NewConfig()}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// WithConfig replaces all configuration values, use it before other options.
func WithConfig(v Config) Option {
	return func(c *config) {
		c.Config = v
	}
}

// WithNodeID sets ID of the node, by default, it is generated.
func WithNodeID(v string) Option {
	return func(c *config) {
		c.nodeID = v
		c.nodeIDSet = true
	}
}

func WithNamespace(v string) Option {
	return func(c *config) {
		c.Namespace = v
	}
}

// WithMaxEvents sets the default batch size, see Node.SetMaxEvents.
func WithMaxEvents(v int) Option {
	return func(c *config) {
		c.MaxEvents = v
	}
}

func WithConfirmTimeout(v time.Duration) Option {
	return func(c *config) {
		c.ConfirmTimeout = v
	}
}

func WithMaxInterval(v time.Duration) Option {
	return func(c *config) {
		c.MaxInterval = v
	}
}

func WithRetryInterval(v time.Duration) Option {
	return func(c *config) {
		c.RetryInterval = v
	}
}

func WithReadyTimeout(v time.Duration) Option {
	return func(c *config) {
		c.ReadyTimeout = v
	}
}

// WithSequentialIDs enables legacy numeric event IDs generated by a Redis counter.
func WithSequentialIDs() Option {
	return func(c *config) {
		c.SequentialIDs = true
	}
}

func WithEventHandler(v EventHandler) Option {
	return func(c *config) {
		c.eventHandler = v
	}
}

func WithErrorHandler(v ErrorHandler) Option {
	return func(c *config) {
		c.errorHandler = v
	}
}

// PostOption configures the Node.Post operation.
type PostOption func(c *postConfig)

type postConfig struct {
	id         string
	idSet      bool
	maxRetries int
	overwrite  bool
	dueTime    time.Time
}

// WithEventID sets ID of the event, by default, it is generated.
func WithEventID(v string) PostOption {
	return func(c *postConfig) {
		c.id = v
		c.idSet = true
	}
}

// WithMaxRetries stores a hint for the application, the scheduler does not enforce it.
func WithMaxRetries(v int) PostOption {
	return func(c *postConfig) {
		c.maxRetries = v
	}
}

// WithDueTime schedules the event at the absolute time, measured by the store clock, the delay argument is ignored.
// A time in the past means the event is due immediately.
func WithDueTime(v time.Time) PostOption {
	return func(c *postConfig) {
		c.dueTime = v
	}
}

// WithoutOverwrite makes post of an existing event ID a no-op.
func WithoutOverwrite() PostOption {
	return func(c *postConfig) {
		c.overwrite = false
	}
}

// UpcomingOption configures the Node.Upcoming operation.
type UpcomingOption func(c *schema.UpcomingRequest)

// WithOffset moves start of the window from now, by default, there is no lower bound.
func WithOffset(v time.Duration) UpcomingOption {
	return func(c *schema.UpcomingRequest) {
		c.Offset = &v
	}
}

// WithDuration sets length of the window, by default, there is no upper bound.
func WithDuration(v time.Duration) UpcomingOption {
	return func(c *schema.UpcomingRequest) {
		c.Duration = &v
	}
}

// WithLimit sets maximum number of events, by default, it is unlimited.
func WithLimit(v int) UpcomingOption {
	return func(c *schema.UpcomingRequest) {
		c.Limit = v
	}
}
