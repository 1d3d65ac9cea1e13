// Package servicectx manages the lifetime of a service process: its unique ID, background operations and the graceful shutdown.
package servicectx

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"

	"github.com/keboola/dtimer/internal/pkg/idgenerator"
	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

// OnShutdownFn is invoked on the process termination, the context is not cancelled yet.
type OnShutdownFn func(ctx context.Context)

type Option func(p *Process)

type Process struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   log.Logger
	uniqueID string

	once     sync.Once
	ops      sync.WaitGroup
	stopCh   chan error
	exitedCh chan struct{}

	lock        sync.Mutex
	terminating bool
	callbacks   []OnShutdownFn
}

// WithUniqueID sets the process ID, by default it is composed of the hostname and PID.
func WithUniqueID(v string) Option {
	return func(p *Process) {
		p.uniqueID = v
	}
}

func WithLogger(v log.Logger) Option {
	return func(p *Process) {
		p.logger = v
	}
}

// New creates the Process. SIGINT and SIGTERM signals trigger the shutdown.
// The cancel function is called when all OnShutdown callbacks are done.
func New(ctx context.Context, cancel context.CancelFunc, opts ...Option) (*Process, error) {
	p := &Process{
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.NewNopLogger(),
		stopCh:   make(chan error),
		exitedCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	if p.uniqueID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, errors.PrefixError(err, "cannot generate process id")
		}
		p.uniqueID = fmt.Sprintf(`%s-%05d`, hostname, os.Getpid())
	}

	p.logger = p.logger.WithComponent("process")

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			p.Shutdown(errors.Errorf("%s", sig))
		case <-ctx.Done():
		}
	}()

	p.logger.Infof(ctx, `process unique id "%s"`, p.uniqueID)
	return p, nil
}

func NewForTest(t *testing.T) *Process {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	p, err := New(ctx, cancel, WithUniqueID("test_"+t.Name()+"_"+idgenerator.Random(5)))
	if err != nil {
		t.Fatal(err)
		return nil
	}

	t.Cleanup(func() {
		p.Shutdown(errors.New("test cleanup"))
		p.WaitForShutdown()
	})

	return p
}

func (p *Process) Ctx() context.Context {
	return p.ctx
}

func (p *Process) UniqueID() string {
	return p.uniqueID
}

// Shutdown requests termination of the Process, the first reason wins, it never blocks.
func (p *Process) Shutdown(reason error) {
	go func() {
		select {
		case p.stopCh <- reason:
		case <-p.exitedCh:
		}
	}()
}

// WaitForShutdown blocks until the first shutdown request.
// Then it invokes OnShutdown callbacks in LIFO order, cancels the context and waits for all operations.
// Repeated calls return when the first call is done.
func (p *Process) WaitForShutdown() {
	select {
	case reason := <-p.stopCh:
		p.once.Do(func() { p.shutdown(reason) })
	case <-p.exitedCh:
	}
	<-p.exitedCh
}

func (p *Process) shutdown(reason error) {
	p.logger.Infof(p.ctx, "exiting (%v)", reason)

	p.lock.Lock()
	p.terminating = true
	callbacks := p.callbacks
	p.lock.Unlock()
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i](p.ctx)
	}

	p.cancel()
	p.ops.Wait()

	p.logger.Info(context.Background(), "exited")
	close(p.exitedCh)
}

// Add runs the operation in a goroutine. WaitForShutdown waits until all operations are done.
// The operation should stop when ctx is done, it can request the shutdown by sending an error to errCh.
func (p *Process) Add(operation func(ctx context.Context, errCh chan<- error)) {
	errCh := make(chan error)
	done := make(chan struct{})
	p.ops.Add(1)
	go func() {
		defer p.ops.Done()
		defer close(done)
		operation(p.ctx, errCh)
	}()
	go func() {
		for {
			select {
			case err := <-errCh:
				p.Shutdown(err)
			case <-done:
				return
			}
		}
	}()
}

// OnShutdown registers a callback invoked when the process is terminating.
func (p *Process) OnShutdown(fn OnShutdownFn) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.terminating {
		p.logger.Errorf(p.ctx, `cannot register OnShutdown callback: the process is terminating`)
		return
	}
	p.callbacks = append(p.callbacks, fn)
}
