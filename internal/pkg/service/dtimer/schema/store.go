package schema

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const (
	DefaultConfirmTimeout = 10 * time.Second
	DefaultMaxInterval    = 30 * time.Second
	sequenceField         = "eventId"
)

type StoreConfig struct {
	ConfirmTimeout time.Duration
	MaxInterval    time.Duration
}

// Store executes typed operations over the keyspace.
// Each write operation is a single MULTI/EXEC transaction finished by the update script,
// so the next wake interval is always recomputed and broadcast with the change.
type Store struct {
	client  redis.UniversalClient
	schema  *Schema
	scripts *Scripts
	config  StoreConfig
}

type UpdateRequest struct {
	// Channel of the requesting node, empty means no harvest.
	Channel   string
	MaxEvents int
}

type UpdateResult struct {
	// Events are serialized harvested events, ascending by the due time.
	Events   []string
	Interval time.Duration
}

type PostRequest struct {
	ID        string
	Delay     time.Duration
	Event     string
	Overwrite bool
	// Promote is the channel to move to the head of the roster, optional.
	Promote string
}

type PendingEntry struct {
	ID       string
	ExpireAt time.Time
	Event    string
}

type UpcomingRequest struct {
	Offset   *time.Duration
	Duration *time.Duration
	// Limit <= 0 means unlimited.
	Limit int
}

func NewStore(client redis.UniversalClient, s *Schema, scripts *Scripts, cfg StoreConfig) *Store {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	return &Store{client: client, schema: s, scripts: scripts, config: cfg}
}

func (s *Store) Schema() *Schema {
	return s.schema
}

func (s *Store) Config() StoreConfig {
	return s.config
}

// Time returns the store clock.
func (s *Store) Time(ctx context.Context) (time.Time, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, errors.PrefixError(err, "cannot read store time")
	}
	return time.UnixMilli(now.UnixMilli()), nil
}

// Update sweeps expired in-flight events, optionally harvests due events and returns the next wake interval.
func (s *Store) Update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return UpdateResult{}, err
	}

	var updateCmd *redis.Cmd
	err = s.exec(ctx, func(pipe redis.Pipeliner) {
		updateCmd = s.update(ctx, pipe, now, req.Channel, req.MaxEvents)
	})
	if err != nil {
		return UpdateResult{}, err
	}

	return parseUpdateResult(updateCmd)
}

// Join promotes the channel in the roster.
func (s *Store) Join(ctx context.Context, channel string) (UpdateResult, error) {
	return s.roster(ctx, channel, true)
}

// Leave removes the channel from the roster.
func (s *Store) Leave(ctx context.Context, channel string) (UpdateResult, error) {
	return s.roster(ctx, channel, false)
}

// Post stores the event as pending, due after the delay.
// It returns false if the event already exists and overwrite is disabled.
func (s *Store) Post(ctx context.Context, req PostRequest) (bool, UpdateResult, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return false, UpdateResult{}, err
	}

	overwrite := "0"
	if req.Overwrite {
		overwrite = "1"
	}

	var postCmd, updateCmd *redis.Cmd
	err = s.exec(ctx, func(pipe redis.Pipeliner) {
		s.promote(ctx, pipe, req.Promote)
		keys := []string{s.schema.Pending(), s.schema.Data(), s.schema.InFlight()}
		postCmd = s.scripts.post.EvalSha(ctx, pipe, keys, req.ID, millis(now.Add(req.Delay)), req.Event, overwrite)
		updateCmd = s.update(ctx, pipe, now, "", 0)
	})
	if err != nil {
		return false, UpdateResult{}, err
	}

	written, err := postCmd.Int()
	if err != nil {
		return false, UpdateResult{}, errors.PrefixError(err, "unexpected post result")
	}

	result, err := parseUpdateResult(updateCmd)
	return written == 1, result, err
}

// Cancel removes a pending event, it returns an empty string if the event is not pending.
func (s *Store) Cancel(ctx context.Context, id, promote string) (string, UpdateResult, error) {
	return s.remove(ctx, s.schema.Pending(), id, promote)
}

// Confirm removes an in-flight event, it returns an empty string if the event is not in flight.
func (s *Store) Confirm(ctx context.Context, id, promote string) (string, UpdateResult, error) {
	return s.remove(ctx, s.schema.InFlight(), id, promote)
}

// ChangeDelay reschedules a pending event, in-flight events are not affected.
func (s *Store) ChangeDelay(ctx context.Context, id string, delay time.Duration, promote string) (bool, UpdateResult, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return false, UpdateResult{}, err
	}

	var changeCmd, updateCmd *redis.Cmd
	err = s.exec(ctx, func(pipe redis.Pipeliner) {
		s.promote(ctx, pipe, promote)
		changeCmd = s.scripts.changeDelay.EvalSha(ctx, pipe, []string{s.schema.Pending()}, id, millis(now.Add(delay)))
		updateCmd = s.update(ctx, pipe, now, "", 0)
	})
	if err != nil {
		return false, UpdateResult{}, err
	}

	changed, err := changeCmd.Int()
	if err != nil {
		return false, UpdateResult{}, errors.PrefixError(err, "unexpected change delay result")
	}

	result, err := parseUpdateResult(updateCmd)
	return changed == 1, result, err
}

// NextSequence increments the legacy event id counter.
func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	return s.client.HIncrBy(ctx, s.schema.Global(), sequenceField, 1).Result()
}

// Peek returns the remaining time and the serialized event of a pending event.
// The bool is false if the event is not pending.
func (s *Store) Peek(ctx context.Context, id string) (time.Duration, string, bool, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return 0, "", false, err
	}

	var scoreCmd *redis.FloatCmd
	var dataCmd *redis.StringCmd
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		scoreCmd = pipe.ZScore(ctx, s.schema.Pending(), id)
		dataCmd = pipe.HGet(ctx, s.schema.Data(), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, "", false, err
	}

	score, err := scoreCmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", false, nil
	} else if err != nil {
		return 0, "", false, err
	}

	data, err := dataCmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", false, nil
	} else if err != nil {
		return 0, "", false, err
	}

	remaining := time.UnixMilli(int64(score)).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, data, true, nil
}

// Upcoming lists pending events in the window [now+offset, now+offset+duration], ascending by the due time.
func (s *Store) Upcoming(ctx context.Context, req UpcomingRequest) ([]PendingEntry, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return nil, err
	}

	minScore, maxScore := "-inf", "+inf"
	base := now
	if req.Offset != nil {
		base = now.Add(*req.Offset)
		minScore = millis(base)
	}
	if req.Duration != nil {
		maxScore = millis(base.Add(*req.Duration))
	}

	rangeBy := &redis.ZRangeBy{Min: minScore, Max: maxScore}
	if req.Limit > 0 {
		rangeBy.Count = int64(req.Limit)
	}

	members, err := s.client.ZRangeByScoreWithScores(ctx, s.schema.Pending(), rangeBy).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.Member.(string))
	}

	data, err := s.client.HMGet(ctx, s.schema.Data(), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]PendingEntry, 0, len(members))
	for i, m := range members {
		// The event may be removed between both calls.
		str, ok := data[i].(string)
		if !ok {
			continue
		}
		out = append(out, PendingEntry{ID: ids[i], ExpireAt: time.UnixMilli(int64(m.Score)), Event: str})
	}
	return out, nil
}

func (s *Store) roster(ctx context.Context, channel string, join bool) (UpdateResult, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return UpdateResult{}, err
	}

	var updateCmd *redis.Cmd
	err = s.exec(ctx, func(pipe redis.Pipeliner) {
		if join {
			s.promote(ctx, pipe, channel)
		} else {
			pipe.LRem(ctx, s.schema.Channels(), 0, channel)
		}
		updateCmd = s.update(ctx, pipe, now, "", 0)
	})
	if err != nil {
		return UpdateResult{}, err
	}

	return parseUpdateResult(updateCmd)
}

func (s *Store) remove(ctx context.Context, set, id, promote string) (string, UpdateResult, error) {
	now, err := s.Time(ctx)
	if err != nil {
		return "", UpdateResult{}, err
	}

	var removeCmd, updateCmd *redis.Cmd
	err = s.exec(ctx, func(pipe redis.Pipeliner) {
		s.promote(ctx, pipe, promote)
		removeCmd = s.scripts.remove.EvalSha(ctx, pipe, []string{set, s.schema.Data()}, id)
		updateCmd = s.update(ctx, pipe, now, "", 0)
	})
	if err != nil {
		return "", UpdateResult{}, err
	}

	removed, err := removeCmd.StringSlice()
	if err != nil {
		return "", UpdateResult{}, errors.PrefixError(err, "unexpected remove result")
	}

	result, err := parseUpdateResult(updateCmd)
	if err != nil {
		return "", UpdateResult{}, err
	}

	if len(removed) == 0 {
		return "", result, nil
	}
	return removed[0], result, nil
}

func (s *Store) promote(ctx context.Context, pipe redis.Pipeliner, channel string) {
	if channel == "" {
		return
	}
	pipe.LRem(ctx, s.schema.Channels(), 0, channel)
	pipe.LPush(ctx, s.schema.Channels(), channel)
}

func (s *Store) update(ctx context.Context, pipe redis.Pipeliner, now time.Time, channel string, maxEvents int) *redis.Cmd {
	if channel == "" {
		maxEvents = 0
	}
	return s.scripts.update.EvalSha(
		ctx,
		pipe,
		s.schema.updateKeys(),
		channel,
		millis(now),
		maxEvents,
		s.config.ConfirmTimeout.Milliseconds(),
		s.config.MaxInterval.Milliseconds(),
	)
}

// exec runs the commands in a MULTI/EXEC transaction.
// If the server has lost the scripts cache, the scripts are loaded again and the transaction is retried once.
func (s *Store) exec(ctx context.Context, fn func(pipe redis.Pipeliner)) error {
	txFn := func(pipe redis.Pipeliner) error {
		fn(pipe)
		return nil
	}

	_, err := s.client.TxPipelined(ctx, txFn)
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		if loadErr := s.scripts.Load(ctx, s.client); loadErr != nil {
			return loadErr
		}
		_, err = s.client.TxPipelined(ctx, txFn)
	}
	return err
}

func parseUpdateResult(cmd *redis.Cmd) (UpdateResult, error) {
	values, err := cmd.Slice()
	if err != nil {
		return UpdateResult{}, err
	}
	if len(values) != 2 {
		return UpdateResult{}, errors.Errorf(`unexpected update result length %d`, len(values))
	}

	var result UpdateResult
	if events, ok := values[0].([]any); ok {
		for _, ev := range events {
			str, ok := ev.(string)
			if !ok {
				return UpdateResult{}, errors.Errorf(`unexpected harvested event type %T`, ev)
			}
			result.Events = append(result.Events, str)
		}
	}

	interval, ok := values[1].(int64)
	if !ok {
		return UpdateResult{}, errors.Errorf(`unexpected interval type %T`, values[1])
	}
	result.Interval = time.Duration(interval) * time.Millisecond

	return result, nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
