// Package node provides the requirement commands of one node with its local shards.
//
// Requirement-bearing commands are rejected with ErrRequirementsDisabled when the per-shard environments are disabled.
// Installed requirements are propagated to the configured replicas, see the "replication" package.
package node

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/distribution"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/config"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/codec"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/shard"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

var ErrRequirementsDisabled = errors.New("requirements are disabled, enable per-shard environments by the createVenv option")

type Node struct {
	logger   log.Logger
	clock    clockwork.Clock
	config   config.Config
	codec    *codec.Codec
	assigner *distribution.Assigner
	runner   JobRunner
	shards   map[int]*shard.Shard

	propagator *replication.Propagator
	receiver   *replication.Receiver

	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

type dependencies interface {
	Config() config.Config
	Logger() log.Logger
	Clock() clockwork.Clock
	Fs() afero.Fs
	MetricsRegistry() *prometheus.Registry
}

type options struct {
	backend installer.Backend
	runner  JobRunner
}

type Option func(o *options)

// WithBackend overrides the backend from the configuration.
func WithBackend(v installer.Backend) Option {
	return func(o *options) {
		o.backend = v
	}
}

func WithJobRunner(v JobRunner) Option {
	return func(o *options) {
		o.runner = v
	}
}

// New opens all local shards and starts the replication, if it is configured.
func New(ctx context.Context, d dependencies, opts ...Option) (*Node, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := d.Config()
	if o.backend == nil {
		backend, err := NewBackend(d.Fs(), cfg.Installer)
		if err != nil {
			return nil, err
		}
		o.backend = backend
	}

	n := &Node{
		logger:   d.Logger().WithComponent("node"),
		clock:    d.Clock(),
		config:   cfg,
		codec:    codec.New(cfg.Export),
		assigner: distribution.NewAssigner(),
		runner:   o.runner,
		shards:   make(map[int]*shard.Shard, cfg.Shards),
		wg:       &sync.WaitGroup{},
	}

	shardCfg := shard.Config{DataDir: cfg.DataDir, Archive: cfg.Archive, Persistence: cfg.Persistence}
	for id := range cfg.Shards {
		s, err := shard.Open(ctx, d, shardCfg, id, o.backend)
		if err != nil {
			n.closeShards(ctx)
			return nil, err
		}
		n.shards[id] = s
		n.assigner.AddShard(id)
	}

	if err := n.startReplication(ctx, d); err != nil {
		n.closeShards(ctx)
		return nil, err
	}

	var bgCtx context.Context
	bgCtx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))
	n.startSnapshots(bgCtx)

	n.logger.Infof(ctx, `node "%s" started with %d shards`, cfg.NodeID, len(n.shards))
	return n, nil
}

// ShardIDs returns IDs of all local shards, sorted.
func (n *Node) ShardIDs() []int {
	return n.assigner.Shards()
}

// Shard returns the local shard.
func (n *Node) Shard(id int) (*shard.Shard, error) {
	s, ok := n.shards[id]
	if !ok {
		return nil, errors.Errorf(`shard %d not found`, id)
	}
	return s, nil
}

// ReceiverAddr returns the address of the replication receiver, or an empty string if it is disabled.
func (n *Node) ReceiverAddr() string {
	if n.receiver == nil {
		return ""
	}
	return n.receiver.Addr()
}

// Snapshot writes snapshots of all shards, the journals are truncated.
func (n *Node) Snapshot(ctx context.Context) error {
	errs := errors.NewMultiError()
	for _, id := range n.ShardIDs() {
		if err := n.shards[id].Snapshot(ctx); err != nil {
			errs.AppendWithPrefixf(err, "cannot snapshot shard %d", id)
		}
	}
	return errs.ErrorOrNil()
}

// Close stops the replication and writes final snapshots.
func (n *Node) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		n.logger.Info(ctx, "closing node")

		// Stop periodic snapshots
		n.cancel()
		n.wg.Wait()

		errs := errors.NewMultiError()
		if n.receiver != nil {
			if err := n.receiver.Close(ctx); err != nil {
				errs.Append(err)
			}
		}
		if n.propagator != nil {
			n.propagator.Close(ctx)
		}
		if err := n.Snapshot(ctx); err != nil {
			errs.Append(err)
		}
		n.closeShards(ctx)

		n.closeErr = errs.ErrorOrNil()
		n.logger.Info(ctx, "closed node")
	})
	return n.closeErr
}

func (n *Node) closeShards(ctx context.Context) {
	for id, s := range n.shards {
		if err := s.Close(ctx); err != nil {
			n.logger.Errorf(ctx, `cannot close shard %d: %s`, id, err)
		}
	}
}

func (n *Node) startSnapshots(ctx context.Context) {
	interval := n.config.Persistence.SnapshotInterval
	if interval <= 0 {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := n.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := n.Snapshot(ctx); err != nil {
					n.logger.Errorf(ctx, `periodic snapshot failed: %s`, err)
				}
			}
		}
	}()
}
