package schema_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/dtimer/internal/pkg/service/dtimer/schema"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type storeForTest struct {
	server  *miniredis.Miniredis
	client  *redis.Client
	scripts *schema.Scripts
	store   *schema.Store
}

func newStoreForTest(t *testing.T) *storeForTest {
	t.Helper()

	server := miniredis.RunT(t)
	server.SetTime(t0)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	scripts := schema.NewScripts()
	require.NoError(t, scripts.Load(context.Background(), client))

	store := schema.NewStore(client, schema.New("test"), scripts, schema.StoreConfig{
		ConfirmTimeout: 10 * time.Second,
		MaxInterval:    30 * time.Second,
	})

	return &storeForTest{server: server, client: client, scripts: scripts, store: store}
}

func TestSchema_Keys(t *testing.T) {
	t.Parallel()

	s := schema.New("")
	assert.Equal(t, "dt", s.Namespace())
	assert.Equal(t, "dt:gl", s.Global())
	assert.Equal(t, "dt:ch", s.Channels())
	assert.Equal(t, "dt:ei", s.Pending())
	assert.Equal(t, "dt:ed", s.Data())
	assert.Equal(t, "dt:et", s.InFlight())
	assert.Equal(t, "dt:ch:node1", s.NodeChannel("node1"))
}

func TestStore_Time(t *testing.T) {
	t.Parallel()

	ts := newStoreForTest(t)
	now, err := ts.store.Time(context.Background())
	require.NoError(t, err)
	assert.True(t, now.Equal(t0), now.String())
}

func TestStore_Update_Empty(t *testing.T) {
	t.Parallel()

	ts := newStoreForTest(t)
	result, err := ts.store.Update(context.Background(), schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 8})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, 30*time.Second, result.Interval)
}

func TestStore_Harvest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	for _, id := range []string{"b", "a", "c"} {
		written, result, err := ts.store.Post(ctx, schema.PostRequest{ID: id, Delay: time.Second, Event: `{"id":"` + id + `"}`, Overwrite: true})
		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, time.Second, result.Interval)
	}

	// Nothing is due yet
	result, err := ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 8})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, time.Second, result.Interval)

	// Ties are broken by id, the batch size is limited
	ts.server.SetTime(t0.Add(time.Second))
	result, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"a"}`, `{"id":"b"}`}, result.Events)
	assert.Equal(t, time.Duration(0), result.Interval)

	result, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:b", MaxEvents: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"c"}`}, result.Events)
	assert.Equal(t, 10*time.Second, result.Interval)

	// No harvest without a channel
	_, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "d", Event: `{"id":"d"}`, Overwrite: true})
	require.NoError(t, err)
	result, err = ts.store.Update(ctx, schema.UpdateRequest{MaxEvents: 8})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, time.Duration(0), result.Interval)

	// An id is never pending and in flight at once
	pending, err := ts.client.ZRange(ctx, "test:ei", 0, -1).Result()
	require.NoError(t, err)
	inFlight, err := ts.client.ZRange(ctx, "test:et", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, pending)
	assert.Equal(t, []string{"a", "b", "c"}, inFlight)
}

func TestStore_Redelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	_, _, err := ts.store.Post(ctx, schema.PostRequest{ID: "a", Event: `{"id":"a"}`, Overwrite: true})
	require.NoError(t, err)

	result, err := ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 8})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"a"}`}, result.Events)
	assert.Equal(t, 10*time.Second, result.Interval)

	// Confirmation deadline is not reached
	ts.server.SetTime(t0.Add(9 * time.Second))
	result, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:b", MaxEvents: 8})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, time.Second, result.Interval)

	// Event is not confirmed in time, it is delivered again
	ts.server.SetTime(t0.Add(10 * time.Second))
	result, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:b", MaxEvents: 8})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"a"}`}, result.Events)

	// Confirmed event is gone
	ev, _, err := ts.store.Confirm(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, ev)
	ts.server.SetTime(t0.Add(time.Minute))
	result, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:b", MaxEvents: 8})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, 30*time.Second, result.Interval)
	stored, err := ts.client.HLen(ctx, "test:ed").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored)
}

func TestStore_Post_Overwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	written, _, err := ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: time.Second, Event: "v1", Overwrite: false})
	require.NoError(t, err)
	assert.True(t, written)

	written, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: 5 * time.Second, Event: "v2", Overwrite: false})
	require.NoError(t, err)
	assert.False(t, written)

	remaining, ev, found, err := ts.store.Peek(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", ev)
	assert.Equal(t, time.Second, remaining)

	written, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: 5 * time.Second, Event: "v2", Overwrite: true})
	require.NoError(t, err)
	assert.True(t, written)

	remaining, ev, found, err = ts.store.Peek(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", ev)
	assert.Equal(t, 5*time.Second, remaining)
}

func TestStore_Post_OverwriteInFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	_, _, err := ts.store.Post(ctx, schema.PostRequest{ID: "a", Event: "v1", Overwrite: true})
	require.NoError(t, err)
	result, err := ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 8})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	written, _, err := ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: time.Second, Event: "v2", Overwrite: false})
	require.NoError(t, err)
	assert.False(t, written)

	written, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: time.Second, Event: "v2", Overwrite: true})
	require.NoError(t, err)
	assert.True(t, written)

	inFlight, err := ts.client.ZCard(ctx, "test:et").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), inFlight)
}

func TestStore_CancelAndConfirm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	_, _, err := ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: time.Second, Event: "a", Overwrite: true})
	require.NoError(t, err)

	// Pending event cannot be confirmed
	ev, _, err := ts.store.Confirm(ctx, "a", "")
	require.NoError(t, err)
	assert.Empty(t, ev)

	ev, result, err := ts.store.Cancel(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "a", ev)
	assert.Equal(t, 30*time.Second, result.Interval)

	ev, _, err = ts.store.Cancel(ctx, "a", "")
	require.NoError(t, err)
	assert.Empty(t, ev)

	// In-flight event cannot be canceled
	_, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "b", Event: "b", Overwrite: true})
	require.NoError(t, err)
	_, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 8})
	require.NoError(t, err)

	ev, _, err = ts.store.Cancel(ctx, "b", "")
	require.NoError(t, err)
	assert.Empty(t, ev)
	data, err := ts.client.HGet(ctx, "test:ed", "b").Result()
	require.NoError(t, err)
	assert.Equal(t, "b", data)

	ev, _, err = ts.store.Confirm(ctx, "b", "")
	require.NoError(t, err)
	assert.Equal(t, "b", ev)
}

func TestStore_ChangeDelay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	changed, _, err := ts.store.ChangeDelay(ctx, "missing", time.Second, "")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: time.Second, Event: "a", Overwrite: true})
	require.NoError(t, err)

	changed, result, err := ts.store.ChangeDelay(ctx, "a", 4*time.Second, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 4*time.Second, result.Interval)

	remaining, _, found, err := ts.store.Peek(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4*time.Second, remaining)

	// In-flight event is not affected
	ts.server.SetTime(t0.Add(4 * time.Second))
	_, err = ts.store.Update(ctx, schema.UpdateRequest{Channel: "test:ch:a", MaxEvents: 8})
	require.NoError(t, err)
	changed, _, err = ts.store.ChangeDelay(ctx, "a", time.Second, "")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, found, err = ts.store.Peek(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Upcoming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	for i, id := range []string{"a", "b", "c"} {
		_, _, err := ts.store.Post(ctx, schema.PostRequest{ID: id, Delay: time.Duration(i+1) * time.Second, Event: id, Overwrite: true})
		require.NoError(t, err)
	}

	ms := func(v int) *time.Duration {
		d := time.Duration(v) * time.Millisecond
		return &d
	}

	cases := []struct {
		name     string
		request  schema.UpcomingRequest
		expected []string
	}{
		{name: "all", request: schema.UpcomingRequest{}, expected: []string{"a", "b", "c"}},
		{name: "limit", request: schema.UpcomingRequest{Limit: 2}, expected: []string{"a", "b"}},
		{name: "duration", request: schema.UpcomingRequest{Duration: ms(1100)}, expected: []string{"a"}},
		{name: "offset", request: schema.UpcomingRequest{Offset: ms(1100)}, expected: []string{"b", "c"}},
		{name: "offset and duration", request: schema.UpcomingRequest{Offset: ms(1100), Duration: ms(1000)}, expected: []string{"b"}},
	}

	for _, tc := range cases {
		entries, err := ts.store.Upcoming(ctx, tc.request)
		require.NoError(t, err, tc.name)

		var ids []string
		for _, entry := range entries {
			ids = append(ids, entry.ID)
			assert.Equal(t, entry.ID, entry.Event, tc.name)
		}
		assert.Equal(t, tc.expected, ids, tc.name)
	}

	entries, err := ts.store.Upcoming(ctx, schema.UpcomingRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ExpireAt.Equal(t0.Add(time.Second)))
}

func TestStore_Roster(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	sub := ts.client.Subscribe(ctx, "test:ch:b")
	t.Cleanup(func() {
		_ = sub.Close()
	})
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	_, err = ts.store.Join(ctx, "test:ch:a")
	require.NoError(t, err)
	_, err = ts.store.Join(ctx, "test:ch:b")
	require.NoError(t, err)
	_, err = ts.store.Join(ctx, "test:ch:a")
	require.NoError(t, err)

	roster, err := ts.client.LRange(ctx, "test:ch", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"test:ch:a", "test:ch:b"}, roster)

	// Write operation promotes the node
	_, _, err = ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: 1500 * time.Millisecond, Event: "a", Overwrite: true, Promote: "test:ch:b"})
	require.NoError(t, err)
	roster, err = ts.client.LRange(ctx, "test:ch", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"test:ch:b", "test:ch:a"}, roster)

	// Other nodes are notified about the new interval
	msgCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var last string
	for last != `{"interval":1500}` {
		msg, err := sub.ReceiveMessage(msgCtx)
		require.NoError(t, err)
		last = msg.Payload
	}

	_, err = ts.store.Leave(ctx, "test:ch:a")
	require.NoError(t, err)
	roster, err = ts.client.LRange(ctx, "test:ch", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"test:ch:b"}, roster)
}

func TestStore_NextSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	for i := int64(1); i <= 3; i++ {
		v, err := ts.store.NextSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, "3", ts.server.HGet("test:gl", "eventId"))
}

func TestStore_ScriptsReload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ts := newStoreForTest(t)

	require.NoError(t, ts.client.ScriptFlush(ctx).Err())

	written, result, err := ts.store.Post(ctx, schema.PostRequest{ID: "a", Delay: time.Second, Event: "a", Overwrite: true})
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, time.Second, result.Interval)
}

func TestScripts_WaitReady(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	// Timeout
	scripts := schema.NewScripts()
	assert.Equal(t, schema.ScriptsNotReady, scripts.State())
	errCh := make(chan error, 1)
	go func() {
		errCh <- scripts.WaitReady(ctx, clock, 30*time.Second)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)
	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrNotReady)
	assert.Contains(t, err.Error(), "operation timed out")

	// Ready
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	require.NoError(t, scripts.Load(ctx, client))
	assert.Equal(t, schema.ScriptsReady, scripts.State())
	require.NoError(t, scripts.WaitReady(ctx, clock, 30*time.Second))

	// Failed
	failed := schema.NewScripts()
	server.Close()
	require.Error(t, failed.Load(ctx, client))
	assert.Equal(t, schema.ScriptsFailed, failed.State())
	err = failed.WaitReady(ctx, clock, 30*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot load scripts")
}
