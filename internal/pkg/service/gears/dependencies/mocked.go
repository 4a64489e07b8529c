package dependencies

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/servicectx"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/config"
)

type Mocked interface {
	ServiceScope
	DebugLogger() log.DebugLogger
	TestClock() *clockwork.FakeClock
}

type mocked struct {
	*serviceScope
	debugLogger log.DebugLogger
	clock       *clockwork.FakeClock
}

type MockedConfig struct {
	config config.Config
	clock  *clockwork.FakeClock
	fs     afero.Fs
}

type MockedOption func(c *MockedConfig)

func WithConfig(fn func(cfg *config.Config)) MockedOption {
	return func(c *MockedConfig) {
		fn(&c.config)
	}
}

func WithClock(v *clockwork.FakeClock) MockedOption {
	return func(c *MockedConfig) {
		c.clock = v
	}
}

// WithFs sets the filesystem, it is useful to share one memory filesystem by multiple nodes.
func WithFs(v afero.Fs) MockedOption {
	return func(c *MockedConfig) {
		c.fs = v
	}
}

// NewMockedServiceScope creates dependencies with a debug logger, a fake clock and a memory filesystem.
func NewMockedServiceScope(t *testing.T, opts ...MockedOption) Mocked {
	t.Helper()

	cfg := config.New()
	cfg.NodeID = "test-node"
	cfg.DataDir = "/data"

	mockedCfg := &MockedConfig{
		config: cfg,
		clock:  clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		fs:     afero.NewMemMapFs(),
	}
	for _, o := range opts {
		o(mockedCfg)
	}

	logger := log.NewDebugLogger()
	proc := servicectx.NewForTest(t, logger)

	return &mocked{
		serviceScope: newServiceScope(mockedCfg.config, proc, logger, mockedCfg.clock, mockedCfg.fs, prometheus.NewRegistry()),
		debugLogger:  logger,
		clock:        mockedCfg.clock,
	}
}

func (v *mocked) DebugLogger() log.DebugLogger {
	return v.debugLogger
}

func (v *mocked) TestClock() *clockwork.FakeClock {
	return v.clock
}
