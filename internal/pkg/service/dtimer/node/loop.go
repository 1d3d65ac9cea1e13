package node

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keboola/dtimer/internal/pkg/service/dtimer/event"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/schema"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/wake"
)

// loop owns the wake timer, it is the only goroutine touching it.
// The timer is re-armed after each harvest, a wake message can only shorten the sleep.
// The loop ends when stop is closed, a running harvest is not interrupted.
func (n *Node) loop(ctx context.Context, messages <-chan *redis.Message, interval time.Duration, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	timer := n.clock.NewTimer(interval)
	deadline := n.clock.Now().Add(interval)
	defer timer.Stop()

	arm := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.Chan():
			default:
			}
		}
		timer.Reset(d)
		deadline = n.clock.Now().Add(d)
	}

	for {
		select {
		case <-stop:
			return
		case <-timer.Chan():
			next := n.harvest(ctx)
			select {
			case <-stop:
				return
			default:
			}
			timer.Reset(next)
			deadline = n.clock.Now().Add(next)
			n.logger.Debugf(ctx, "next harvest in %s", next)
		case msg, ok := <-messages:
			if !ok {
				// The subscription is closed, the timer still works
				messages = nil
				continue
			}
			announced, ok := n.onWakeMessage(ctx, msg.Payload)
			if !ok {
				continue
			}
			if remaining := deadline.Sub(n.clock.Now()); announced < remaining {
				arm(announced)
				n.logger.Debugf(ctx, "wake message received, next harvest in %s", announced)
			}
		}
	}
}

// harvest due events and deliver them to the event handler, it returns the next wake interval.
func (n *Node) harvest(ctx context.Context) (next time.Duration) {
	var err error
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Harvest")
	defer span.End(&err)

	startTime := n.clock.Now()
	maxEvents := n.MaxEvents()
	result, err := n.store.Update(ctx, schema.UpdateRequest{Channel: n.channel, MaxEvents: maxEvents})
	n.metrics.updateDuration.Record(ctx, float64(n.clock.Since(startTime).Milliseconds()))
	if err != nil {
		err = newTransportError("harvest", err)
		n.metrics.harvestFailed.Add(ctx, 1)
		n.logger.Warnf(ctx, "harvest failed, retry in %s: %s", n.config.RetryInterval, err)
		n.reportError(ctx, err)
		return n.config.RetryInterval
	}

	span.SetAttributes(attribute.Int("events.count", len(result.Events)))
	if len(result.Events) > 0 {
		n.logger.Debugf(ctx, "harvested %d events", len(result.Events))
		n.metrics.harvested.Add(ctx, int64(len(result.Events)), metric.WithAttributes(attribute.String("node.id", n.id)))
	}

	// A single malformed event does not stop the batch
	for _, raw := range result.Events {
		ev, decodeErr := event.Decode(raw)
		if decodeErr != nil {
			perr := newProtocolError(decodeErr)
			n.logger.Warnf(ctx, "cannot decode harvested event: %s", perr)
			n.reportError(ctx, perr)
			continue
		}
		if n.config.eventHandler != nil {
			n.config.eventHandler(ctx, ev)
		}
	}

	return result.Interval
}

// onWakeMessage decodes the announced interval, an invalid message is reported and ignored.
func (n *Node) onWakeMessage(ctx context.Context, payload string) (time.Duration, bool) {
	interval, err := wake.Decode(payload)
	if err != nil {
		perr := newProtocolError(err)
		n.logger.Warnf(ctx, "%s", perr)
		n.reportError(ctx, perr)
		return 0, false
	}
	return interval, true
}
