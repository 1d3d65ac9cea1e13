package node

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/dtimer/internal/pkg/idgenerator"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/event"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/schema"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

// Post schedules the event after the delay, it returns the event ID.
// The payload must encode to a JSON object.
// By default, an existing event with the same ID is replaced, see WithoutOverwrite.
func (n *Node) Post(ctx context.Context, payload any, delay time.Duration, opts ...PostOption) (id string, err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Post")
	defer span.End(&err)

	c := postConfig{overwrite: true}
	for _, o := range opts {
		o(&c)
	}

	// Validate arguments before any store call
	if c.idSet {
		if err := event.ValidateID(c.id); err != nil {
			return "", newValidationError(err)
		}
	}
	if c.maxRetries < 0 {
		return "", newValidationError(errors.Errorf(`maxRetries must be a non-negative number, found %d`, c.maxRetries))
	}
	raw, err := event.NewPayload(payload)
	if err != nil {
		return "", newValidationError(err)
	}

	if err := n.waitReady(ctx); err != nil {
		return "", err
	}

	// Convert the due time to a delay, by the store clock
	if !c.dueTime.IsZero() {
		now, err := n.store.Time(ctx)
		if err != nil {
			return "", newTransportError("post", err)
		}
		delay = max(c.dueTime.Sub(now), 0)
	}

	// Generate ID
	id = c.id
	if !c.idSet {
		if n.config.SequentialIDs {
			seq, err := n.store.NextSequence(ctx)
			if err != nil {
				return "", newTransportError("post", err)
			}
			id = strconv.FormatInt(seq, 10)
		} else {
			id = idgenerator.EventID()
		}
	}
	span.SetAttributes(attribute.String("event.id", id))

	ev := event.Event{ID: id, MaxRetries: c.maxRetries, Payload: raw}
	data, err := ev.Encode()
	if err != nil {
		return "", newValidationError(err)
	}

	written, _, err := n.store.Post(ctx, schema.PostRequest{
		ID:        id,
		Delay:     delay,
		Event:     data,
		Overwrite: c.overwrite,
		Promote:   n.promoteChannel(),
	})
	if err != nil {
		return "", newTransportError("post", err)
	}

	if written {
		n.metrics.posted.Add(ctx, 1)
		n.logger.Debugf(ctx, `posted event "%s", delay %s`, id, delay)
	} else {
		n.logger.Debugf(ctx, `event "%s" already exists, skipped`, id)
	}

	return id, nil
}

// Cancel removes a pending event, it returns nil if the event is not pending.
func (n *Node) Cancel(ctx context.Context, id string) (ev *event.Event, err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Cancel")
	defer span.End(&err)

	if err := event.ValidateID(id); err != nil {
		return nil, newValidationError(err)
	}
	if err := n.waitReady(ctx); err != nil {
		return nil, err
	}

	data, _, err := n.store.Cancel(ctx, id, n.promoteChannel())
	if err != nil {
		return nil, newTransportError("cancel", err)
	}

	ev, err = n.decodeStored(data)
	if ev != nil {
		n.metrics.canceled.Add(ctx, 1)
		n.logger.Debugf(ctx, `canceled event "%s"`, id)
	}
	return ev, err
}

// Confirm removes an in-flight event, so it is not delivered again.
// It returns nil if the event is not in flight.
func (n *Node) Confirm(ctx context.Context, id string) (ev *event.Event, err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Confirm")
	defer span.End(&err)

	if err := event.ValidateID(id); err != nil {
		return nil, newValidationError(err)
	}
	if err := n.waitReady(ctx); err != nil {
		return nil, err
	}

	data, _, err := n.store.Confirm(ctx, id, n.promoteChannel())
	if err != nil {
		return nil, newTransportError("confirm", err)
	}

	ev, err = n.decodeStored(data)
	if ev != nil {
		n.metrics.confirmed.Add(ctx, 1)
		n.logger.Debugf(ctx, `confirmed event "%s"`, id)
	}
	return ev, err
}

// ChangeDelay reschedules a pending event to now + delay.
// It returns false if the event is not pending, in-flight events are not affected.
func (n *Node) ChangeDelay(ctx context.Context, id string, delay time.Duration) (changed bool, err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"ChangeDelay")
	defer span.End(&err)

	if err := event.ValidateID(id); err != nil {
		return false, newValidationError(err)
	}
	if err := n.waitReady(ctx); err != nil {
		return false, err
	}

	changed, _, err = n.store.ChangeDelay(ctx, id, delay, n.promoteChannel())
	if err != nil {
		return false, newTransportError("change delay", err)
	}
	return changed, nil
}

// Peek returns the remaining time and the event, without any modification.
// The event is nil if it is not pending.
func (n *Node) Peek(ctx context.Context, id string) (remaining time.Duration, ev *event.Event, err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Peek")
	defer span.End(&err)

	if err := event.ValidateID(id); err != nil {
		return 0, nil, newValidationError(err)
	}
	if err := n.waitReady(ctx); err != nil {
		return 0, nil, err
	}

	remaining, data, found, err := n.store.Peek(ctx, id)
	if err != nil {
		return 0, nil, newTransportError("peek", err)
	}
	if !found {
		return 0, nil, nil
	}

	ev, err = n.decodeStored(data)
	if err != nil {
		return 0, nil, err
	}
	return remaining, ev, nil
}

// Upcoming lists pending events ordered by the due time.
// The window is [now+offset, now+offset+duration], see WithOffset, WithDuration and WithLimit.
func (n *Node) Upcoming(ctx context.Context, opts ...UpcomingOption) (out event.Upcoming, err error) {
	ctx, span := n.tracer.Start(ctx, spanPrefix+"Upcoming")
	defer span.End(&err)

	req := schema.UpcomingRequest{}
	for _, o := range opts {
		o(&req)
	}
	if req.Duration != nil && *req.Duration < 0 {
		return nil, newValidationError(errors.Errorf(`duration must be a non-negative value, found %s`, *req.Duration))
	}
	if err := n.waitReady(ctx); err != nil {
		return nil, err
	}

	entries, err := n.store.Upcoming(ctx, req)
	if err != nil {
		return nil, newTransportError("upcoming", err)
	}

	out = make(event.Upcoming, 0, len(entries))
	for _, entry := range entries {
		ev, err := event.Decode(entry.Event)
		if err != nil {
			n.reportError(ctx, newProtocolError(err))
			continue
		}
		out = append(out, event.UpcomingEvent{ExpireAt: entry.ExpireAt, Event: ev})
	}
	return out, nil
}

func (n *Node) decodeStored(data string) (*event.Event, error) {
	if data == "" {
		return nil, nil
	}
	ev, err := event.Decode(data)
	if err != nil {
		return nil, newProtocolError(err)
	}
	return &ev, nil
}
