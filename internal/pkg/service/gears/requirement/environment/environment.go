// Package environment manages the isolated per-shard directory the installed requirements are materialized into.
package environment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	envDirName      = "env"
	manifestDirName = ".installed"
)

type Environment struct {
	logger  log.Logger
	fs      afero.Fs
	shardID int
	path    string

	createOnce sync.Once
	createErr  error

	lock sync.Mutex
}

// ShardDir returns the data directory of the shard.
func ShardDir(dataDir string, shardID int) string {
	return filepath.Join(dataDir, fmt.Sprintf("shard-%d", shardID))
}

func New(logger log.Logger, fs afero.Fs, dataDir string, shardID int) *Environment {
	return &Environment{
		logger:  logger.WithComponent("requirement.environment"),
		fs:      fs,
		shardID: shardID,
		path:    filepath.Join(ShardDir(dataDir, shardID), envDirName),
	}
}

func (e *Environment) Path() string {
	return e.path
}

// Create the environment directory, only the first call has an effect.
func (e *Environment) Create(ctx context.Context) error {
	e.createOnce.Do(func() {
		if err := e.fs.MkdirAll(filepath.Join(e.path, manifestDirName), 0o755); err != nil {
			e.createErr = errors.PrefixErrorf(err, `cannot create environment of shard %d`, e.shardID)
			return
		}
		e.logger.Infof(ctx, `created environment "%s"`, e.path)
	})
	return e.createErr
}

// Materialize extracts the archive files into the environment.
func (e *Environment) Materialize(ctx context.Context, key constraint.Key, artifact []byte) error {
	if err := e.Create(ctx); err != nil {
		return err
	}

	raw, err := archive.Open(artifact)
	if err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if err := archive.Unpack(e.fs, e.path, raw); err != nil {
		return errors.PrefixErrorf(err, `cannot materialize requirement "%s"`, key)
	}
	if err := afero.WriteFile(e.fs, e.manifestPath(key), []byte(key.String()+"\n"), 0o644); err != nil {
		return errors.PrefixErrorf(err, `cannot write manifest of requirement "%s"`, key)
	}

	e.logger.Debugf(ctx, `materialized requirement "%s"`, key)
	return nil
}

// IsMaterialized returns true if the requirement files are present in the environment.
func (e *Environment) IsMaterialized(key constraint.Key) bool {
	ok, err := afero.Exists(e.fs, e.manifestPath(key))
	return err == nil && ok
}

func (e *Environment) manifestPath(key constraint.Key) string {
	return filepath.Join(e.path, manifestDirName, manifestName(key))
}

func manifestName(key constraint.Key) string {
	return fmt.Sprintf("%x", []byte(key))
}
