package node

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/keboola/shard-requirements/internal/pkg/ctxattr"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// Job is the user code executed on one shard, the requirements are installed in the environment.
type Job struct {
	ShardID      int
	Code         string
	Requirements constraint.Key
	Environment  string
}

// JobRunner executes user code, the execution engine is not part of the node.
type JobRunner interface {
	Run(ctx context.Context, job Job) (any, error)
}

type Result struct {
	ShardID int
	Output  any
}

// Results are sorted by the shard ID.
type Results []Result

// Execute installs the requirements on all shards and then runs the code on each shard.
// If the installation fails on any shard, the code is not executed at all.
func (n *Node) Execute(ctx context.Context, code string, requirements []string) (Results, error) {
	if n.runner == nil {
		return nil, errors.New("job runner is not configured")
	}

	key, err := n.InstallAll(ctx, requirements)
	if err != nil {
		return nil, err
	}

	ids := n.ShardIDs()
	results := make(Results, len(ids))
	grp, grpCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		grp.Go(func() error {
			output, err := n.runner.Run(grpCtx, Job{
				ShardID:      id,
				Code:         code,
				Requirements: key,
				Environment:  n.shards[id].Environment().Path(),
			})
			if err != nil {
				return errors.PrefixErrorf(err, "shard %d", id)
			}
			results[i] = Result{ShardID: id, Output: output}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// InstallAll installs the requirements on all local shards.
// All shard errors are aggregated to one error.
func (n *Node) InstallAll(ctx context.Context, requirements []string) (constraint.Key, error) {
	if len(requirements) == 0 {
		return "", nil
	}
	if !n.config.CreateVenv {
		return "", ErrRequirementsDisabled
	}

	// Malformed constraints are rejected before any install
	set, err := constraint.ParseSet(requirements)
	if err != nil {
		return "", err
	}
	key := set.Key()
	ctx = ctxattr.ContextWith(ctx, attribute.String("requirement.key", key.String()))

	lock := &sync.Mutex{}
	errs := errors.NewMultiError()
	grp := &errgroup.Group{}
	for _, id := range n.ShardIDs() {
		grp.Go(func() error {
			if _, err := n.shards[id].Install(ctx, set); err != nil {
				lock.Lock()
				errs.Append(err)
				lock.Unlock()
			}
			return nil
		})
	}
	_ = grp.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		n.logger.Warnf(ctx, `cannot satisfy requirements "<requirement.key>": %s`, err)
		return "", errors.PrefixError(err, "cannot satisfy requirements")
	}
	return key, nil
}

// Register installs the requirements and persists the association with the code on all shards.
func (n *Node) Register(ctx context.Context, code string, requirements []string) (registry.Registration, error) {
	key, err := n.InstallAll(ctx, requirements)
	if err != nil {
		return registry.Registration{}, err
	}

	id, err := newRegistrationID()
	if err != nil {
		return registry.Registration{}, err
	}

	r := registry.Registration{ID: id, Code: code, Requirements: key, CreatedAt: n.clock.Now().UTC()}
	errs := errors.NewMultiError()
	for _, shardID := range n.ShardIDs() {
		if err := n.shards[shardID].Register(ctx, r); err != nil {
			errs.AppendWithPrefixf(err, "cannot register on shard %d", shardID)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return registry.Registration{}, err
	}

	n.logger.Infof(ctx, `registered "%s" with requirements "%s"`, r.ID, r.Requirements)
	return r, nil
}

// Registrations returns registrations of the shard.
func (n *Node) Registrations(shardID int) ([]registry.Registration, error) {
	s, err := n.Shard(shardID)
	if err != nil {
		return nil, err
	}
	return s.Registrations(), nil
}
