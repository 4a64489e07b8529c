package node

import (
	"context"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/codec"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func (n *Node) startReplication(ctx context.Context, d dependencies) error {
	cfg := n.config.Replication

	if cfg.Listen != "" {
		receiver, err := replication.NewReceiver(ctx, d, cfg, n)
		if err != nil {
			return err
		}
		n.receiver = receiver
	}

	if len(cfg.Replicas) > 0 {
		propagator, err := replication.NewPropagator(ctx, d, cfg, n)
		if err != nil {
			if n.receiver != nil {
				_ = n.receiver.Close(ctx)
			}
			return err
		}
		n.propagator = propagator

		for _, id := range n.ShardIDs() {
			n.shards[id].OnInstalled(func(ctx context.Context, entry registry.Entry) {
				n.enqueue(ctx, id, entry)
			})
		}
	}

	return nil
}

// ApplyReplicated imports the requirement received from the primary, the import is idempotent.
func (n *Node) ApplyReplicated(ctx context.Context, shardID int, bundle []byte) error {
	if !n.config.CreateVenv {
		return ErrRequirementsDisabled
	}

	s, err := n.Shard(shardID)
	if err != nil {
		return err
	}

	entry, err := n.codec.Import(bundle)
	if err != nil {
		return err
	}

	if _, err := s.Import(ctx, entry); err != nil {
		return err
	}

	n.logger.Debugf(ctx, `applied replicated requirement "%s" to shard %d`, entry.Key, shardID)
	return nil
}

// ReplicationMessages returns all installed requirements, they are sent to a replica after each connect.
func (n *Node) ReplicationMessages(_ context.Context) ([]replication.Message, error) {
	var out []replication.Message
	for _, id := range n.ShardIDs() {
		for _, entry := range n.shards[id].Registry().ListAll() {
			if !entry.Installed {
				continue
			}
			bundle, err := codec.EncodeBundle(entry, codec.CurrentOS())
			if err != nil {
				return nil, errors.PrefixErrorf(err, `cannot encode requirement "%s" of shard %d`, entry.Key, id)
			}
			out = append(out, replication.Message{ShardID: id, Bundle: bundle})
		}
	}
	return out, nil
}

func (n *Node) enqueue(ctx context.Context, shardID int, entry registry.Entry) {
	bundle, err := codec.EncodeBundle(entry, codec.CurrentOS())
	if err != nil {
		n.logger.Errorf(ctx, `cannot replicate requirement "%s" of shard %d: %s`, entry.Key, shardID, err)
		return
	}
	n.propagator.Enqueue(replication.Message{ShardID: shardID, Bundle: bundle})
}
