package schema

import (
	"context"
	_ "embed"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const (
	ScriptsNotReady ScriptsState = iota
	ScriptsReady
	ScriptsFailed
)

var (
	//go:embed update.lua
	updateLua string
	//go:embed post.lua
	postLua string
	//go:embed remove.lua
	removeLua string
	//go:embed changedelay.lua
	changeDelayLua string
)

// ErrNotReady is returned if the scripts are not loaded in time.
var ErrNotReady = errors.New("operation timed out: scripts are not loaded")

type ScriptsState int

// Scripts holds the Lua scripts executed by the store.
// The scripts must be loaded, see Load, before any operation is accepted, see WaitReady.
type Scripts struct {
	update      *redis.Script
	post        *redis.Script
	remove      *redis.Script
	changeDelay *redis.Script

	lock     *sync.RWMutex
	state    ScriptsState
	err      error
	done     chan struct{}
	doneOnce *sync.Once
}

func NewScripts() *Scripts {
	return &Scripts{
		update:      redis.NewScript(updateLua),
		post:        redis.NewScript(postLua),
		remove:      redis.NewScript(removeLua),
		changeDelay: redis.NewScript(changeDelayLua),
		lock:        &sync.RWMutex{},
		done:        make(chan struct{}),
		doneOnce:    &sync.Once{},
	}
}

func (s *Scripts) State() ScriptsState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// Load all scripts to the Redis script cache.
// It can be called repeatedly, for example if the server lost the cache.
func (s *Scripts) Load(ctx context.Context, client redis.Scripter) error {
	errs := errors.NewMultiError()
	for _, script := range []*redis.Script{s.update, s.post, s.remove, s.changeDelay} {
		if err := script.Load(ctx, client).Err(); err != nil {
			errs.Append(err)
		}
	}

	err := errs.ErrorOrNil()
	if err != nil {
		err = errors.PrefixError(err, "cannot load scripts")
	}

	s.lock.Lock()
	if err == nil {
		s.state = ScriptsReady
		s.err = nil
	} else if s.state != ScriptsReady {
		s.state = ScriptsFailed
		s.err = err
	}
	s.lock.Unlock()

	s.doneOnce.Do(func() {
		close(s.done)
	})

	return err
}

// WaitReady blocks until the first Load has finished or the timeout has elapsed.
func (s *Scripts) WaitReady(ctx context.Context, clock clockwork.Clock, timeout time.Duration) error {
	select {
	case <-s.done:
	default:
		timer := clock.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.Chan():
			return ErrNotReady
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.state == ScriptsFailed {
		return s.err
	}
	return nil
}
