package node

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/codec"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const awaitInterval = 100 * time.Millisecond

// ExportRequirement exports the requirement from the shard owning the name.
// Other shards are used, if the owner does not have the requirement.
func (n *Node) ExportRequirement(ctx context.Context, name string) (codec.Metadata, [][]byte, error) {
	preference, err := n.assigner.Preference(name)
	if err != nil {
		return nil, nil, err
	}

	var found *registry.Entry
	for _, id := range preference {
		if entry, ok := n.shards[id].Registry().Find(name); ok {
			if entry.Downloaded {
				found = &entry
				break
			} else if found == nil {
				found = &entry
			}
		}
	}
	if found == nil {
		return nil, nil, registry.NotFoundError{Key: constraint.Key(name)}
	}
	if !found.Downloaded {
		return nil, nil, codec.NotDownloadedError{Key: found.Key}
	}

	metadata, chunks, err := n.codec.Export(*found)
	if err != nil {
		return nil, nil, err
	}

	n.logger.Infof(ctx, `exported requirement "%s", %d chunks`, found.Key, len(chunks))
	return metadata, chunks, nil
}

// ImportRequirement validates the whole input and then installs the requirement on all local shards.
// Nothing is modified, if the input is incomplete or corrupted.
func (n *Node) ImportRequirement(ctx context.Context, chunks ...[]byte) error {
	return n.ImportRequirementSeq(ctx, slices.Values(chunks))
}

func (n *Node) ImportRequirementSeq(ctx context.Context, chunks iter.Seq[[]byte]) error {
	if !n.config.CreateVenv {
		return ErrRequirementsDisabled
	}

	entry, err := n.codec.ImportSeq(chunks)
	if err != nil {
		return err
	}

	errs := errors.NewMultiError()
	for _, id := range n.ShardIDs() {
		if _, err := n.shards[id].Import(ctx, entry); err != nil {
			errs.AppendWithPrefixf(err, "cannot import to shard %d", id)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	n.logger.Infof(ctx, `imported requirement "%s"`, entry.Key)
	return nil
}

// DumpRequirements returns metadata of all requirements of the shard, in the insertion order.
func (n *Node) DumpRequirements(_ context.Context, shardID int) ([]codec.Metadata, error) {
	s, err := n.Shard(shardID)
	if err != nil {
		return nil, err
	}

	entries := s.Registry().ListAll()
	out := make([]codec.Metadata, 0, len(entries))
	for _, entry := range entries {
		out = append(out, codec.NewMetadata(entry, codec.CurrentOS()))
	}
	return out, nil
}

// AwaitRequirements polls the dump of the shard until the condition is met.
// The wait is bounded by the context and by the replication await timeout.
// A requirement missing on a replica is expected until the propagation completes.
func (n *Node) AwaitRequirements(ctx context.Context, shardID int, cond func(dump []codec.Metadata) bool) ([]codec.Metadata, error) {
	timeout := n.config.Replication.AwaitTimeout
	expired := n.clock.After(timeout)
	ticker := n.clock.NewTicker(awaitInterval)
	defer ticker.Stop()

	for {
		dump, err := n.DumpRequirements(ctx, shardID)
		if err != nil {
			return nil, err
		}
		if cond(dump) {
			return dump, nil
		}

		select {
		case <-ctx.Done():
			return dump, ctx.Err()
		case <-expired:
			return dump, errors.Errorf(`requirements of shard %d did not match the condition within %s`, shardID, timeout)
		case <-ticker.Chan():
		}
	}
}

// HasRequirement returns an AwaitRequirements condition: the requirement is downloaded and installed.
func HasRequirement(name string) func(dump []codec.Metadata) bool {
	return func(dump []codec.Metadata) bool {
		for _, m := range dump {
			if m.IsDownloaded() && m.IsInstalled() && hasPackage(m, name) {
				return true
			}
		}
		return false
	}
}

func hasPackage(m codec.Metadata, name string) bool {
	if m.Name() == name {
		return true
	}
	set, err := constraint.ParseSet(m.Constraints())
	return err == nil && set.HasPackage(name)
}
