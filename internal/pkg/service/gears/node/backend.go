package node

import (
	"github.com/spf13/afero"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer/catalog"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// NewBackend creates the package installer backend from the configuration.
func NewBackend(fs afero.Fs, cfg installer.Config) (installer.Backend, error) {
	switch cfg.Backend {
	case installer.BackendCommand:
		return installer.NewCommandBackend(cfg.Command, cfg.Timeout)
	case installer.BackendCatalog:
		return catalog.LoadFile(fs, cfg.CatalogFile)
	default:
		return nil, errors.Errorf(`unexpected installer backend "%s"`, cfg.Backend)
	}
}
