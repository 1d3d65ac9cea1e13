package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/dtimer/internal/pkg/service/dtimer/dependencies"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/node"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNode_PostAndReceive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	n, r := newReceiverNode(t, d, true)
	poster := newPostOnlyNode(t, d)
	require.NoError(t, n.Join(ctx))

	id, err := poster.Post(ctx, map[string]any{"foo": "bar"}, 100*time.Millisecond, node.WithMaxRetries(2))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(r.Events()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ev := r.Events()[0]
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, 2, ev.MaxRetries)
	assert.JSONEq(t, `{"foo":"bar"}`, string(ev.Payload))

	// The event has been confirmed by the handler, so the store is clean
	ns := d.Config().Node.Namespace
	assert.Eventually(t, func() bool {
		return !d.RedisServer().Exists(ns+":ed") && !d.RedisServer().Exists(ns+":et")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.Errors())

	// Metrics and spans, the harvest span ends after the handler
	tel := d.TestTelemetry()
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		var spanNames []string
		for _, span := range tel.Spans() {
			spanNames = append(spanNames, span.Name)
		}
		assert.Contains(c, spanNames, "keboola.go.dtimer.node.Join")
		assert.Contains(c, spanNames, "keboola.go.dtimer.node.Post")
		assert.Contains(c, spanNames, "keboola.go.dtimer.node.Confirm")
		assert.Contains(c, spanNames, "keboola.go.dtimer.node.Harvest")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), tel.CounterValue(t, "dtimer.event.posted"))
	assert.Equal(t, int64(1), tel.CounterValue(t, "dtimer.event.harvested"))
	assert.Equal(t, int64(1), tel.CounterValue(t, "dtimer.event.confirmed"))
}

func TestNode_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	n, r := newReceiverNode(t, d, true)
	require.NoError(t, n.Join(ctx))

	id, err := n.Post(ctx, map[string]any{"foo": "bar"}, 200*time.Millisecond)
	require.NoError(t, err)

	ev, err := n.Cancel(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, id, ev.ID)
	assert.JSONEq(t, `{"foo":"bar"}`, string(ev.Payload))

	// Second cancel is a no-op
	ev, err = n.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// The canceled event is never delivered
	assert.Never(t, func() bool {
		return len(r.Events()) > 0
	}, 500*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, int64(1), d.TestTelemetry().CounterValue(t, "dtimer.event.canceled"))
}

func TestNode_Confirm_NotInFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	n := newPostOnlyNode(t, d)

	// A pending event cannot be confirmed
	id, err := n.Post(ctx, map[string]any{}, time.Hour)
	require.NoError(t, err)
	ev, err := n.Confirm(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = n.Confirm(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNode_ChangeDelay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	n, r := newReceiverNode(t, d, false)
	require.NoError(t, n.Join(ctx))

	id, err := n.Post(ctx, map[string]any{}, time.Hour)
	require.NoError(t, err)

	// Unknown event
	changed, err := n.ChangeDelay(ctx, "missing", time.Second)
	require.NoError(t, err)
	assert.False(t, changed)

	// Pending event
	changed, err = n.ChangeDelay(ctx, id, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Eventually(t, func() bool {
		return len(r.Events()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// In-flight event is not affected
	changed, err = n.ChangeDelay(ctx, id, time.Hour)
	require.NoError(t, err)
	assert.False(t, changed)

	ev, err := n.Confirm(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, id, ev.ID)
}

func TestNode_Peek(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	d.RedisServer().SetTime(t0)
	n := newPostOnlyNode(t, d)

	id, err := n.Post(ctx, map[string]any{"foo": 123}, time.Hour, node.WithEventID("my-event"))
	require.NoError(t, err)
	assert.Equal(t, "my-event", id)

	remaining, ev, err := n.Peek(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, time.Hour, remaining)
	assert.Equal(t, "my-event", ev.ID)
	assert.JSONEq(t, `{"foo":123}`, string(ev.Payload))

	d.RedisServer().SetTime(t0.Add(15 * time.Minute))
	remaining, _, err = n.Peek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, remaining)

	remaining, ev, err = n.Peek(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, time.Duration(0), remaining)
}

// TestNode_Post_DueTime checks that an absolute due time is converted to a delay by the store clock.
func TestNode_Post_DueTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	d.RedisServer().SetTime(t0)
	n := newPostOnlyNode(t, d)

	// The store clock differs from the local one, the delay argument is ignored
	_, err := n.Post(ctx, map[string]any{}, 5*time.Minute, node.WithEventID("future"), node.WithDueTime(t0.Add(time.Hour)))
	require.NoError(t, err)
	remaining, ev, err := n.Peek(ctx, "future")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, time.Hour, remaining)

	// A past due time is due immediately
	_, err = n.Post(ctx, map[string]any{}, time.Hour, node.WithEventID("past"), node.WithDueTime(t0.Add(-time.Hour)))
	require.NoError(t, err)
	remaining, ev, err = n.Peek(ctx, "past")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestNode_Overwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	d.RedisServer().SetTime(t0)
	n := newPostOnlyNode(t, d)

	_, err := n.Post(ctx, map[string]any{"v": 1}, time.Hour, node.WithEventID("ev"))
	require.NoError(t, err)

	// No-op
	_, err = n.Post(ctx, map[string]any{"v": 2}, time.Minute, node.WithEventID("ev"), node.WithoutOverwrite())
	require.NoError(t, err)
	remaining, ev, err := n.Peek(ctx, "ev")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, time.Hour, remaining)
	assert.JSONEq(t, `{"v":1}`, string(ev.Payload))

	// Replace
	_, err = n.Post(ctx, map[string]any{"v": 3}, time.Minute, node.WithEventID("ev"))
	require.NoError(t, err)
	remaining, ev, err = n.Peek(ctx, "ev")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, time.Minute, remaining)
	assert.JSONEq(t, `{"v":3}`, string(ev.Payload))

	assert.Equal(t, int64(2), d.TestTelemetry().CounterValue(t, "dtimer.event.posted"))
}

func TestNode_Upcoming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	d.RedisServer().SetTime(t0)
	n := newPostOnlyNode(t, d)

	for i, id := range []string{"a", "b", "c"} {
		_, err := n.Post(ctx, map[string]any{"index": i}, time.Duration(i+1)*time.Second, node.WithEventID(id))
		require.NoError(t, err)
	}

	cases := []struct {
		name     string
		opts     []node.UpcomingOption
		expected []string
	}{
		{name: "all", expected: []string{"a", "b", "c"}},
		{name: "limit", opts: []node.UpcomingOption{node.WithLimit(2)}, expected: []string{"a", "b"}},
		{name: "duration", opts: []node.UpcomingOption{node.WithDuration(1100 * time.Millisecond)}, expected: []string{"a"}},
		{name: "offset", opts: []node.UpcomingOption{node.WithOffset(1100 * time.Millisecond)}, expected: []string{"b", "c"}},
		{name: "window", opts: []node.UpcomingOption{node.WithOffset(1100 * time.Millisecond), node.WithDuration(time.Second)}, expected: []string{"b"}},
		{name: "empty", opts: []node.UpcomingOption{node.WithOffset(time.Hour)}, expected: []string{}},
	}

	for _, tc := range cases {
		upcoming, err := n.Upcoming(ctx, tc.opts...)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.expected, upcoming.IDs(), tc.name)
	}

	upcoming, err := n.Upcoming(ctx)
	require.NoError(t, err)
	require.Len(t, upcoming, 3)
	assert.True(t, t0.Add(time.Second).Equal(upcoming[0].ExpireAt))
	assert.True(t, t0.Add(3*time.Second).Equal(upcoming[2].ExpireAt))
	assert.JSONEq(t, `{"index":1}`, string(upcoming.ByID()["b"].Event.Payload))
}

func TestNode_Redelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	n, r := newReceiverNode(t, d, false, node.WithConfirmTimeout(200*time.Millisecond))
	require.NoError(t, n.Join(ctx))

	id, err := n.Post(ctx, map[string]any{}, 0)
	require.NoError(t, err)

	// The event is not confirmed, so it is delivered again after the confirm timeout
	assert.Eventually(t, func() bool {
		return len(r.Events()) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	for _, ev := range r.Events() {
		assert.Equal(t, id, ev.ID)
	}

	// Confirmation stops the redelivery
	ev, err := n.Confirm(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	count := len(r.Events())
	assert.Never(t, func() bool {
		return len(r.Events()) > count
	}, 500*time.Millisecond, 20*time.Millisecond)
}

func TestNode_SequentialIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := dependencies.NewMocked(t)
	n := newPostOnlyNode(t, d, node.WithSequentialIDs())

	id1, err := n.Post(ctx, map[string]any{}, time.Hour)
	require.NoError(t, err)
	id2, err := n.Post(ctx, map[string]any{}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "1", id1)
	assert.Equal(t, "2", id2)

	// Explicit ID has priority
	id3, err := n.Post(ctx, map[string]any{}, time.Hour, node.WithEventID("custom"))
	require.NoError(t, err)
	assert.Equal(t, "custom", id3)
}
