package registry

import (
	"time"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
)

// Entry is an immutable snapshot of a requirement state on one shard.
// A modification always creates a new value.
type Entry struct {
	Key         constraint.Key `json:"key"`
	Constraints constraint.Set `json:"constraints"`
	Downloaded  bool           `json:"downloaded"`
	Installed   bool           `json:"installed"`
	Archive     []byte         `json:"archive,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (e Entry) Pending() bool {
	return !e.Installed
}
