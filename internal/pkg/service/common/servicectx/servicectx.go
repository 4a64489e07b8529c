// Package servicectx provides unique ID for a service process and support for the graceful shutdown.
package servicectx

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type Process struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   log.Logger
	wg       *sync.WaitGroup
	errCh    chan error
	uniqueID string

	lock        *sync.Mutex
	terminating bool
	onShutdown  []OnShutdownFn
}

type Option func(c *config)

// OnShutdownFn is invoked when the process is terminating, the context is not cancelled yet.
type OnShutdownFn func(ctx context.Context)

// ShutdownFn stops the process with an error, nil error means a regular stop.
type ShutdownFn func(ctx context.Context, err error)

type config struct {
	uniqueID      string
	handleSignals bool
}

// WithUniqueID sets unique ID of the service process.
// By default, it is generated from the hostname and PID.
func WithUniqueID(v string) Option {
	return func(c *config) {
		c.uniqueID = v
	}
}

// WithoutSignals disables SIGINT and SIGTERM handling, for example in tests.
func WithoutSignals() Option {
	return func(c *config) {
		c.handleSignals = false
	}
}

func New(ctx context.Context, logger log.Logger, opts ...Option) (*Process, error) {
	c := config{handleSignals: true}
	for _, o := range opts {
		o(&c)
	}

	// Generate uniqueID if not set
	if c.uniqueID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		c.uniqueID = fmt.Sprintf(`%s-%05d`, hostname, os.Getpid())
	}

	ctx, cancel := context.WithCancel(ctx)
	proc := &Process{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithComponent("process"),
		wg:       &sync.WaitGroup{},
		errCh:    make(chan error, 1),
		uniqueID: c.uniqueID,
		lock:     &sync.Mutex{},
	}

	// SIGINT and SIGTERM signals cause the services to stop gracefully.
	if c.handleSignals {
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				proc.Shutdown(context.Background(), errors.Errorf("%s", sig))
			case <-ctx.Done():
			}
			signal.Stop(sigCh)
		}()
	}

	proc.logger.Infof(ctx, `process unique id "%s"`, proc.UniqueID())
	return proc, nil
}

func NewForTest(t *testing.T, logger log.Logger) *Process {
	t.Helper()

	proc, err := New(context.Background(), logger, WithUniqueID("test_"+t.Name()), WithoutSignals())
	if err != nil {
		t.Fatal(err)
		return nil
	}

	t.Cleanup(func() {
		proc.Shutdown(context.Background(), errors.New("test cleanup"))
		proc.WaitForShutdown()
	})

	return proc
}

// Ctx returns context of the Process, it is cancelled after all OnShutdown callbacks.
func (v *Process) Ctx() context.Context {
	return v.ctx
}

// UniqueID returns unique process ID, it consists of hostname and PID.
func (v *Process) UniqueID() string {
	return v.uniqueID
}

// Shutdown triggers termination of the Process. Only the first call has an effect.
func (v *Process) Shutdown(ctx context.Context, err error) {
	if err == nil {
		err = errors.New("regular shutdown")
	}
	select {
	case v.errCh <- err:
	default:
		v.logger.Debugf(ctx, "shutdown already triggered, ignored: %s", err)
	}
}

// WaitForShutdown blocks until Shutdown is called, then invokes OnShutdown callbacks and waits for all operations.
func (v *Process) WaitForShutdown() {
	ctx := context.Background()
	v.logger.Infof(ctx, "exiting (%v)", <-v.errCh)

	v.lock.Lock()
	v.terminating = true
	callbacks := v.onShutdown
	v.lock.Unlock()

	// Iterate callbacks in reverse order, LIFO
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i](ctx)
	}

	// Send cancellation signal to the goroutines and wait for them
	v.cancel()
	v.wg.Wait()

	v.logger.Info(ctx, "exited")
}

// Add an operation.
// The Process is graceful terminated when all operations are completed.
// The operation can stop the process using the shutdown callback.
func (v *Process) Add(operation func(ctx context.Context, shutdown ShutdownFn)) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		operation(v.ctx, v.Shutdown)
	}()
}

// OnShutdown registers a callback that is invoked when the process is terminating.
// Graceful shutdown waits until the callback has finished.
// Callbacks are invoked sequentially in LIFO order.
func (v *Process) OnShutdown(fn OnShutdownFn) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.terminating {
		v.logger.Error(v.ctx, `cannot register OnShutdown callback: the process is terminating`)
		return
	}
	v.onShutdown = append(v.onShutdown, fn)
}
