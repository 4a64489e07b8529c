// Package dependencies provides dependencies for the requirements node.
//
// Following dependencies containers are implemented:
//   - [ServiceScope] long-lived dependencies that exist during the entire run of the node.
//
// Dependency containers creation:
//   - [ServiceScope] is created at startup in the "reqnode" command.
//
// The package also provides mocked dependency implementations for tests:
//   - [NewMockedServiceScope]
package dependencies

import (
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/servicectx"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/config"
)

// ServiceScope interface provides dependencies for the requirements node.
// The container exists during the entire run of the node.
type ServiceScope interface {
	Config() config.Config
	Logger() log.Logger
	Process() *servicectx.Process
	Clock() clockwork.Clock
	Fs() afero.Fs
	MetricsRegistry() *prometheus.Registry
}

type serviceScope struct {
	config          config.Config
	logger          log.Logger
	process         *servicectx.Process
	clock           clockwork.Clock
	fs              afero.Fs
	metricsRegistry *prometheus.Registry
}

func NewServiceScope(cfg config.Config, proc *servicectx.Process, logger log.Logger) ServiceScope {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newServiceScope(cfg, proc, logger, clockwork.NewRealClock(), afero.NewOsFs(), registry)
}

func newServiceScope(cfg config.Config, proc *servicectx.Process, logger log.Logger, clock clockwork.Clock, fs afero.Fs, registry *prometheus.Registry) *serviceScope {
	return &serviceScope{
		config:          cfg,
		logger:          logger,
		process:         proc,
		clock:           clock,
		fs:              fs,
		metricsRegistry: registry,
	}
}

func (v *serviceScope) Config() config.Config {
	return v.config
}

func (v *serviceScope) Logger() log.Logger {
	return v.logger
}

func (v *serviceScope) Process() *servicectx.Process {
	return v.process
}

func (v *serviceScope) Clock() clockwork.Clock {
	return v.clock
}

func (v *serviceScope) Fs() afero.Fs {
	return v.fs
}

func (v *serviceScope) MetricsRegistry() *prometheus.Registry {
	return v.metricsRegistry
}
