// Package node provides a scheduler node, it delivers delayed events stored in Redis.
//
// # Coordination
//
// All nodes share the Redis keyspace, see the schema package. There is no direct communication between nodes.
// Each write operation and each harvest is finished by the update script, which:
//   - Returns expired in-flight events back to the pending set.
//   - Optionally harvests due events for the requesting node.
//   - Computes the next wake interval and publishes it to all other nodes.
//
// # Wake Loop
//
// A joined node sleeps until the wake interval elapses, then it harvests due events.
// A wake message from another node can only shorten the sleep.
//
// # Delivery
//
// Events are delivered at least once. A harvested event must be confirmed, see Node.Confirm,
// otherwise it is delivered again after the confirmation timeout.
package node

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"github.com/keboola/dtimer/internal/pkg/idgenerator"
	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/schema"
	"github.com/keboola/dtimer/internal/pkg/telemetry"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const spanPrefix = "keboola.go.dtimer.node."

const (
	StateDetached State = iota
	StateJoining
	StateActive
	StateLeaving
)

type State int32

// loopCtxKey marks the context passed from the wake loop to the handlers.
type loopCtxKey struct{}

type Node struct {
	id      string
	channel string
	config  config
	clock   clockwork.Clock
	logger  log.Logger
	tracer  telemetry.Tracer
	metrics *metrics
	pub     redis.UniversalClient
	sub     redis.UniversalClient
	scripts *schema.Scripts
	store   *schema.Store

	maxEvents *atomic.Int64
	state     *atomic.Int32

	// membership serializes Join and Leave
	membership *sync.Mutex
	pubsub     *redis.PubSub
	loopStop   chan struct{}
	loopDone   chan struct{}
}

type dependencies interface {
	Clock() clockwork.Clock
	Logger() log.Logger
	Telemetry() telemetry.Telemetry
}

// New creates the node and starts loading of the scripts.
// The sub connection is optional, without it, the node works in the post-only mode and cannot join.
func New(d dependencies, pub, sub redis.UniversalClient, opts ...Option) (*Node, error) {
	c := newConfig(opts)

	if pub == nil {
		return nil, newConfigurationError(errors.New("publisher connection is not set"))
	}

	var nodeID string
	switch {
	case sub == nil:
		nodeID = PostOnlyNodeID
	case !c.nodeIDSet:
		nodeID = idgenerator.NodeID()
	case c.nodeID == "" || strings.IndexFunc(c.nodeID, unicode.IsSpace) >= 0:
		return nil, newConfigurationError(errors.Errorf(`node id "%s" must be a non-empty string without whitespaces`, c.nodeID))
	default:
		nodeID = c.nodeID
	}

	normalizeConfig(&c.Config)

	s := schema.New(c.Namespace)
	scripts := schema.NewScripts()
	n := &Node{
		id:         nodeID,
		channel:    s.NodeChannel(nodeID),
		config:     c,
		clock:      d.Clock(),
		logger:     d.Logger().WithComponent("dtimer.node").With(attribute.String("node.id", nodeID)),
		tracer:     d.Telemetry().Tracer(),
		metrics:    newMetrics(d.Telemetry().Meter()),
		pub:        pub,
		sub:        sub,
		scripts:    scripts,
		store:      schema.NewStore(pub, s, scripts, schema.StoreConfig{ConfirmTimeout: c.ConfirmTimeout, MaxInterval: c.MaxInterval}),
		maxEvents:  atomic.NewInt64(int64(c.MaxEvents)),
		state:      atomic.NewInt32(int32(StateDetached)),
		membership: &sync.Mutex{},
	}

	go n.loadScripts()

	return n, nil
}

// ID of the node.
func (n *Node) ID() string {
	return n.id
}

// Channel is the private pub/sub channel of the node.
func (n *Node) Channel() string {
	return n.channel
}

func (n *Node) State() State {
	return State(n.state.Load())
}

// MaxEvents returns maximum number of events harvested at once.
func (n *Node) MaxEvents() int {
	return int(n.maxEvents.Load())
}

// SetMaxEvents sets maximum number of events harvested at once.
// A non-positive value resets it to the configured default.
func (n *Node) SetMaxEvents(v int) {
	if v <= 0 {
		v = n.config.MaxEvents
	}
	n.maxEvents.Store(int64(v))
}

// Join registers the node to the roster and starts the wake loop.
func (n *Node) Join(ctx context.Context) (err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Join")
	defer span.End(&err)

	if n.sub == nil {
		return ErrPostOnly
	}

	n.membership.Lock()
	defer n.membership.Unlock()

	if n.State() != StateDetached {
		return ErrAlreadyJoined
	}

	if err := n.waitReady(ctx); err != nil {
		return err
	}

	n.logger.Infof(ctx, `joining the node "%s"`, n.id)
	n.state.Store(int32(StateJoining))

	pubsub := n.sub.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		n.state.Store(int32(StateDetached))
		return newTransportError("subscribe", err)
	}

	result, err := n.store.Join(ctx, n.channel)
	if err != nil {
		_ = pubsub.Close()
		n.state.Store(int32(StateDetached))
		return newTransportError("join", err)
	}

	// The loop context is never cancelled, Leave stops the loop by loopStop.
	loopCtx := context.WithValue(context.WithoutCancel(ctx), loopCtxKey{}, n)
	n.pubsub = pubsub
	n.loopStop = make(chan struct{})
	n.loopDone = make(chan struct{})
	n.state.Store(int32(StateActive))
	go n.loop(loopCtx, pubsub.Channel(), result.Interval, n.loopStop, n.loopDone)

	n.logger.Infof(ctx, `the node "%s" joined, next harvest in %s`, n.id, result.Interval)
	return nil
}

// Leave stops the wake loop and removes the node from the roster.
// A running harvest is finished first, including the event handler calls of its batch.
// The node is unsubscribed even if the roster update fails.
func (n *Node) Leave(ctx context.Context) (err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Leave")
	defer span.End(&err)

	if n.sub == nil {
		return ErrPostOnly
	}

	// The loop would wait for itself
	if owner, _ := ctx.Value(loopCtxKey{}).(*Node); owner == n {
		return ErrLeaveFromHandler
	}

	n.membership.Lock()
	defer n.membership.Unlock()

	if n.State() != StateActive {
		return ErrNotJoined
	}

	n.logger.Infof(ctx, `leaving the node "%s"`, n.id)
	n.state.Store(int32(StateLeaving))

	// Stop the timer before touching the store
	close(n.loopStop)
	<-n.loopDone

	errs := errors.NewMultiError()
	if _, err := n.store.Leave(ctx, n.channel); err != nil {
		errs.Append(newTransportError("leave", err))
	}
	if err := n.pubsub.Unsubscribe(ctx, n.channel); err != nil {
		errs.Append(newTransportError("unsubscribe", err))
	}
	if err := n.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs.Append(newTransportError("unsubscribe", err))
	}

	n.pubsub = nil
	n.loopStop = nil
	n.loopDone = nil
	n.state.Store(int32(StateDetached))

	if err := errs.ErrorOrNil(); err != nil {
		n.logger.Warnf(ctx, `the node "%s" left with errors: %s`, n.id, err)
		return err
	}

	n.logger.Infof(ctx, `the node "%s" left`, n.id)
	return nil
}

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

func (n *Node) loadScripts() {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.ReadyTimeout)
	defer cancel()

	if err := n.scripts.Load(ctx, n.pub); err != nil {
		n.logger.Errorf(ctx, "cannot load scripts: %s", err)
		n.reportError(ctx, newTransportError("load scripts", err))
		return
	}

	n.logger.Debug(ctx, "scripts loaded")
}

func (n *Node) waitReady(ctx context.Context) error {
	return n.scripts.WaitReady(ctx, n.clock, n.config.ReadyTimeout)
}

// promoteChannel returns the channel to be moved to the head of the roster, if the node is active.
func (n *Node) promoteChannel() string {
	if n.State() == StateActive {
		return n.channel
	}
	return ""
}

func (n *Node) reportError(ctx context.Context, err error) {
	if n.config.errorHandler != nil {
		n.config.errorHandler(ctx, err)
	}
}

func normalizeConfig(c *Config) {
	defaults := NewConfig()
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaults.MaxEvents
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = defaults.MaxInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaults.ReadyTimeout
	}
}
