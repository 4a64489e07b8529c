package registry

import (
	"time"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
)

// Registration is a durable association of user code with a requirement set.
type Registration struct {
	ID           string         `json:"id"`
	ShardID      int            `json:"shardId"`
	Code         string         `json:"code"`
	Requirements constraint.Key `json:"requirements"`
	CreatedAt    time.Time      `json:"createdAt"`
}
