// Package installer installs requirement sets into the environment of a shard.
//
// Concurrent installs of the same key share one flight, all callers get the same result.
// The flight is detached from the caller's context, so a cancelled caller does not abort the install.
package installer

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/keboola/shard-requirements/internal/pkg/ctxattr"
	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/environment"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const buildDirName = "build"

type Installer struct {
	logger     log.Logger
	fs         afero.Fs
	shardID    int
	shardLabel string
	buildDir   string
	archiveCfg archive.Config
	registry   *registry.Registry
	env        *environment.Environment
	backend    Backend
	metrics    *Metrics
	group      singleflight.Group
}

type dependencies interface {
	Logger() log.Logger
	Fs() afero.Fs
}

func New(d dependencies, dataDir string, shardID int, archiveCfg archive.Config, reg *registry.Registry, env *environment.Environment, backend Backend, metrics *Metrics) *Installer {
	if metrics == nil {
		metrics, _ = NewMetrics(nil)
	}
	return &Installer{
		logger:     d.Logger().WithComponent("requirement.installer"),
		fs:         d.Fs(),
		shardID:    shardID,
		shardLabel: strconv.Itoa(shardID),
		buildDir:   filepath.Join(environment.ShardDir(dataDir, shardID), buildDirName),
		archiveCfg: archiveCfg,
		registry:   reg,
		env:        env,
		backend:    backend,
		metrics:    metrics,
	}
}

// Install makes sure the requirement set is installed on the shard.
// An already installed entry is returned without a backend call.
func (i *Installer) Install(ctx context.Context, set constraint.Set) (registry.Entry, error) {
	key := set.Key()
	if entry, ok := i.registry.Get(key); ok && entry.Installed {
		return entry, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	resultCh := i.group.DoChan(key.String(), func() (any, error) {
		return i.install(flightCtx, set)
	})

	select {
	case <-ctx.Done():
		return registry.Entry{}, ctx.Err()
	case result := <-resultCh:
		if result.Err != nil {
			return registry.Entry{}, result.Err
		}
		return result.Val.(registry.Entry), nil
	}
}

func (i *Installer) install(ctx context.Context, set constraint.Set) (registry.Entry, error) {
	key := set.Key()
	ctx = ctxattr.ContextWith(ctx, attribute.String("requirement.key", key.String()), attribute.Int("shard.id", i.shardID))

	entry, _ := i.registry.GetOrCreate(set)
	if entry.Installed {
		return entry, nil
	}

	// Download survived a restart, the install is finished without the backend.
	if !entry.Downloaded {
		artifact, err := i.build(ctx, entry)
		if err != nil {
			i.registry.Discard(key)
			i.metrics.Failures.WithLabelValues(i.shardLabel).Inc()
			i.logger.Warnf(ctx, `cannot install requirement "<requirement.key>": %s`, err)
			return registry.Entry{}, RequirementUnsatisfiableError{ShardID: i.shardID, Key: key, err: err}
		}
		if err := i.registry.MarkDownloaded(ctx, key, artifact); err != nil {
			i.registry.Discard(key)
			return registry.Entry{}, err
		}
	}

	if entry, ok := i.registry.Get(key); ok {
		if err := i.env.Materialize(ctx, key, entry.Archive); err != nil {
			return registry.Entry{}, err
		}
	}
	if err := i.registry.MarkInstalled(ctx, key); err != nil {
		return registry.Entry{}, err
	}

	i.metrics.Successes.WithLabelValues(i.shardLabel).Inc()
	i.logger.Info(ctx, `installed requirement "<requirement.key>"`)

	entry, _ = i.registry.Get(key)
	return entry, nil
}

// build runs the backend in a fresh directory and seals its content into an archive.
func (i *Installer) build(ctx context.Context, entry registry.Entry) ([]byte, error) {
	if err := i.env.Create(ctx); err != nil {
		return nil, err
	}
	if err := i.fs.MkdirAll(i.buildDir, 0o755); err != nil {
		return nil, err
	}

	dir, err := afero.TempDir(i.fs, i.buildDir, "req-")
	if err != nil {
		return nil, errors.PrefixError(err, "cannot create build directory")
	}
	defer func() {
		if rmErr := i.fs.RemoveAll(dir); rmErr != nil {
			i.logger.Warnf(ctx, `cannot remove build directory "%s": %s`, dir, rmErr)
		}
	}()

	i.metrics.Invocations.WithLabelValues(i.shardLabel).Inc()
	i.logger.Info(ctx, `installing requirement "<requirement.key>"`)

	req := BuildRequest{ShardID: i.shardID, Key: entry.Key, Constraints: entry.Constraints, Fs: i.fs, Dir: dir}
	start := time.Now()
	err = i.backend.Install(ctx, req)
	i.metrics.observeDuration(i.shardLabel, start, err)
	if err != nil {
		return nil, err
	}

	raw, err := archive.Pack(i.fs, dir)
	if err != nil {
		return nil, err
	}
	return archive.Seal(raw, i.archiveCfg)
}
