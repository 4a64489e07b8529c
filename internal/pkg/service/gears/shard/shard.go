// Package shard bundles the requirement components of one shard.
//
// Each shard has its own registry, environment, installer and persistence store
// in the "<dataDir>/shard-<id>" directory. Shards are independent of each other.
package shard

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/environment"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/persistence"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type Config struct {
	DataDir     string
	Archive     archive.Config
	Persistence persistence.Config
}

type Shard struct {
	id        int
	logger    log.Logger
	store     *persistence.Store
	registry  *registry.Registry
	env       *environment.Environment
	installer *installer.Installer

	lock          sync.RWMutex
	registrations []registry.Registration
}

type dependencies interface {
	Logger() log.Logger
	Clock() clockwork.Clock
	Fs() afero.Fs
	MetricsRegistry() *prometheus.Registry
}

// Open loads the persisted state of the shard.
// Installed requirements are restored without the backend.
func Open(ctx context.Context, d dependencies, cfg Config, id int, backend installer.Backend) (*Shard, error) {
	logger := d.Logger().WithComponent("shard").With(attribute.Int("shard.id", id))

	store, err := persistence.Open(ctx, d, cfg.Persistence, environment.ShardDir(cfg.DataDir, id))
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot open shard %d`, id)
	}

	metrics, err := installer.NewMetrics(d.MetricsRegistry())
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	state := store.State()
	reg := registry.New(d.Clock(), store)
	reg.Restore(state.Entries)
	env := environment.New(d.Logger(), d.Fs(), cfg.DataDir, id)

	s := &Shard{
		id:            id,
		logger:        logger,
		store:         store,
		registry:      reg,
		env:           env,
		installer:     installer.New(d, cfg.DataDir, id, cfg.Archive, reg, env, backend, metrics),
		registrations: state.Registrations,
	}

	if err := s.restore(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	return s, nil
}

func (s *Shard) ID() int {
	return s.id
}

func (s *Shard) Registry() *registry.Registry {
	return s.registry
}

func (s *Shard) Environment() *environment.Environment {
	return s.env
}

// OnInstalled registers a listener called after a requirement becomes installed.
func (s *Shard) OnInstalled(fn registry.Listener) {
	s.registry.OnInstalled(fn)
}

// Install makes sure the requirement set is installed.
func (s *Shard) Install(ctx context.Context, set constraint.Set) (registry.Entry, error) {
	return s.installer.Install(ctx, set)
}

// Import stores an already built requirement, it is materialized and marked as installed.
// Import of an artifact already installed and materialized is a no-op.
func (s *Shard) Import(ctx context.Context, entry registry.Entry) (registry.Entry, error) {
	if existing, ok := s.registry.Current(entry.Key, entry.Archive); ok && s.env.IsMaterialized(entry.Key) {
		return existing, nil
	}
	if err := s.env.Materialize(ctx, entry.Key, entry.Archive); err != nil {
		return registry.Entry{}, err
	}
	return s.registry.Put(ctx, entry)
}

// Register persists the registration, the requirements, if any, must be installed.
func (s *Shard) Register(ctx context.Context, r registry.Registration) error {
	if !s.isSatisfied(r.Requirements) {
		return registry.NotFoundError{Key: r.Requirements}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	r.ShardID = s.id
	if err := s.store.Registered(ctx, r); err != nil {
		return err
	}
	s.registrations = append(s.registrations, r)
	return nil
}

func (s *Shard) Registrations() []registry.Registration {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append(make([]registry.Registration, 0, len(s.registrations)), s.registrations...)
}

func (s *Shard) Snapshot(ctx context.Context) error {
	return s.store.Snapshot(ctx)
}

func (s *Shard) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

// restore checks the loaded state, missing environment files are extracted again from the archives.
func (s *Shard) restore(ctx context.Context) error {
	installed := 0
	for _, entry := range s.registry.ListAll() {
		if !entry.Installed {
			continue
		}
		installed++
		if !s.env.IsMaterialized(entry.Key) {
			if err := s.env.Materialize(ctx, entry.Key, entry.Archive); err != nil {
				return errors.PrefixErrorf(err, `cannot restore shard %d`, s.id)
			}
		}
	}

	errs := errors.NewMultiError()
	for _, r := range s.registrations {
		if !s.isSatisfied(r.Requirements) {
			errs.Append(errors.Errorf(`registration "%s" requires "%s", but it is not installed`, r.ID, r.Requirements))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return errors.PrefixErrorf(err, `cannot restore shard %d`, s.id)
	}

	if len(s.registrations) > 0 || installed > 0 {
		s.logger.Infof(ctx, `restored %d installed requirements and %d registrations`, installed, len(s.registrations))
	}
	return nil
}

func (s *Shard) isSatisfied(key constraint.Key) bool {
	if key == "" {
		return true
	}
	entry, ok := s.registry.Get(key)
	return ok && entry.Installed
}
