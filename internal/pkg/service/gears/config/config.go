// Package config provides configuration of the requirements node.
// See "configmap" package for more information.
package config

import (
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/codec"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/persistence"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const EnvPrefix = "REQNODE_"

type Config struct {
	DebugLog    bool               `configKey:"debugLog" configUsage:"Enable debug log level."`
	LogFormat   string             `configKey:"logFormat" configUsage:"Log format: console or json." validate:"required,oneof=console json"`
	NodeID      string             `configKey:"nodeId" configUsage:"Unique ID of the node." validate:"required"`
	DataDir     string             `configKey:"dataDir" configUsage:"Directory of shard environments and persisted state." validate:"required"`
	Shards      int                `configKey:"shards" configUsage:"Number of local shards." validate:"min=1,max=1024"`
	CreateVenv  bool               `configKey:"createVenv" configUsage:"Enable per-shard environments, jobs with requirements are rejected otherwise."`
	Metrics     Metrics            `configKey:"metrics"`
	Installer   installer.Config   `configKey:"installer"`
	Archive     archive.Config     `configKey:"archive"`
	Export      codec.Config       `configKey:"export"`
	Persistence persistence.Config `configKey:"persistence"`
	Replication replication.Config `configKey:"replication"`
}

type Metrics struct {
	Listen string `configKey:"listen" configUsage:"Listen address of the Prometheus metrics endpoint, empty value disables it." validate:"omitempty,hostname_port"`
}

func New() Config {
	return Config{
		LogFormat:   "console",
		DataDir:     "/var/lib/reqnode",
		Shards:      1,
		CreateVenv:  true,
		Installer:   installer.NewConfig(),
		Archive:     archive.NewConfig(),
		Export:      codec.NewConfig(),
		Persistence: persistence.NewConfig(),
		Replication: replication.NewConfig(),
	}
}

func (c *Config) Validate() error {
	errs := errors.NewMultiError()
	if c.Installer.Backend == installer.BackendCatalog && c.Installer.CatalogFile == "" {
		errs.Append(errors.New(`"installer.catalogFile" is required by the catalog backend`))
	}
	return errs.ErrorOrNil()
}
