package installer

import (
	"context"

	"github.com/spf13/afero"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
)

// Backend resolves, fetches and builds packages into the BuildRequest.Dir.
// The Installer packs the content of the directory into the requirement archive.
type Backend interface {
	Install(ctx context.Context, req BuildRequest) error
}

type BuildRequest struct {
	ShardID     int
	Key         constraint.Key
	Constraints constraint.Set
	Fs          afero.Fs
	Dir         string
}
