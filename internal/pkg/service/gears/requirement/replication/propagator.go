// Package replication propagates installed requirements from a primary node to its replicas.
//
// Propagation is asynchronous, the install path only enqueues a message.
// Each replica has an unbounded queue and one worker, the worker reconnects with a backoff.
// After each (re)connection, all installed requirements are sent again, the import on the replica is idempotent.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"github.com/keboola/shard-requirements/internal/pkg/ctxattr"
	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication/transport"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// Message is one installed requirement of a shard, encoded as an export bundle.
type Message struct {
	ShardID int
	Bundle  []byte
}

// Source provides all installed requirements for the full resync.
type Source interface {
	ReplicationMessages(ctx context.Context) ([]Message, error)
}

type Propagator struct {
	logger  log.Logger
	config  Config
	source  Source
	metrics *metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	workers []*worker
}

type worker struct {
	p      *Propagator
	logger log.Logger
	addr   string

	lock   sync.Mutex
	queue  []Message
	notify chan struct{}

	delivered *atomic.Uint64
	connected *atomic.Bool
}

type dependencies interface {
	Logger() log.Logger
	MetricsRegistry() *prometheus.Registry
}

func NewPropagator(ctx context.Context, d dependencies, cfg Config, source Source) (*Propagator, error) {
	m, err := newMetrics(d.MetricsRegistry())
	if err != nil {
		return nil, err
	}

	p := &Propagator{
		logger:  d.Logger().WithComponent("requirement.replication"),
		config:  cfg,
		source:  source,
		metrics: m,
		wg:      &sync.WaitGroup{},
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, addr := range cfg.Replicas {
		w := &worker{
			p:         p,
			logger:    p.logger.With(attribute.String("replica.addr", addr)),
			addr:      addr,
			notify:    make(chan struct{}, 1),
			delivered: atomic.NewUint64(0),
			connected: atomic.NewBool(false),
		}
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctxattr.ContextWith(p.ctx, attribute.String("replica.addr", addr)))
		}()
	}

	return p, nil
}

// Enqueue the message to all replicas, it never blocks.
func (p *Propagator) Enqueue(msg Message) {
	for _, w := range p.workers {
		w.push(msg)
	}
}

// Delivered returns number of messages delivered to the replica.
func (p *Propagator) Delivered(addr string) uint64 {
	for _, w := range p.workers {
		if w.addr == addr {
			return w.delivered.Load()
		}
	}
	return 0
}

// Pending returns number of queued messages for all replicas.
func (p *Propagator) Pending() int {
	total := 0
	for _, w := range p.workers {
		w.lock.Lock()
		total += len(w.queue)
		w.lock.Unlock()
	}
	return total
}

func (p *Propagator) Close(ctx context.Context) {
	p.logger.Infof(ctx, "closing propagator, %d pending messages", p.Pending())
	p.cancel()
	p.wg.Wait()
	p.logger.Info(ctx, "closed propagator")
}

func (w *worker) push(msg Message) {
	w.lock.Lock()
	w.queue = append(w.queue, msg)
	w.lock.Unlock()
	w.p.metrics.queued.WithLabelValues(w.addr).Inc()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *worker) peek() (Message, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if len(w.queue) == 0 {
		return Message{}, false
	}
	return w.queue[0], true
}

func (w *worker) pop() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.queue[0] = Message{}
	w.queue = w.queue[1:]
	w.p.metrics.queued.WithLabelValues(w.addr).Dec()
}

func (w *worker) run(ctx context.Context) {
	for {
		conn, err := w.connect(ctx)
		if err != nil {
			// Context cancelled
			return
		}

		w.connected.Store(true)
		w.logger.Infof(ctx, `connected to replica "%s"`, w.addr)

		err = w.resync(ctx, conn)
		if err == nil {
			err = w.deliver(ctx, conn)
		}

		w.connected.Store(false)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		w.logger.Warnf(ctx, `connection to replica "%s" failed, reconnecting: %s`, w.addr, err)
	}
}

func (w *worker) connect(ctx context.Context) (*transport.Connection, error) {
	var conn *transport.Connection
	err := backoff.RetryNotify(
		func() (err error) {
			conn, err = transport.Dial(ctx, w.logger, w.addr, w.p.config.DialTimeout)
			return err
		},
		backoff.WithContext(newBackoff(w.p.config.RetryMaxInterval), ctx),
		func(err error, delay time.Duration) {
			w.logger.Debugf(ctx, `cannot connect to replica, retry in %s: %s`, delay, err)
		},
	)
	return conn, err
}

// resync sends all installed requirements.
func (w *worker) resync(ctx context.Context, conn *transport.Connection) error {
	messages, err := w.p.source.ReplicationMessages(ctx)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if err := w.send(ctx, conn, msg); err != nil {
			return err
		}
	}
	w.logger.Debugf(ctx, `resynced %d requirements`, len(messages))
	return nil
}

func (w *worker) deliver(ctx context.Context, conn *transport.Connection) error {
	for {
		msg, ok := w.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.notify:
				continue
			}
		}

		if err := w.send(ctx, conn, msg); err != nil {
			return err
		}
		w.pop()
	}
}

// send returns an error only if the connection failed, a message rejected by the replica is dropped.
func (w *worker) send(ctx context.Context, conn *transport.Connection, msg Message) error {
	err := conn.Send(ctx, msg.ShardID, msg.Bundle)

	var remoteErr transport.RemoteError
	switch {
	case err == nil:
		w.delivered.Inc()
		w.p.metrics.delivered.WithLabelValues(w.addr).Inc()
		return nil
	case errors.As(err, &remoteErr):
		w.p.metrics.rejected.WithLabelValues(w.addr).Inc()
		w.logger.Errorf(ctx, `replica rejected requirement of shard %d: %s`, msg.ShardID, remoteErr.Message)
		return nil
	default:
		return err
	}
}

func newBackoff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // never stop
	b.Reset()
	return b
}
