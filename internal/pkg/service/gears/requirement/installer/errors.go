package installer

import (
	"fmt"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
)

// RequirementUnsatisfiableError means the backend could not resolve, fetch or build the requirement set.
type RequirementUnsatisfiableError struct {
	ShardID int
	Key     constraint.Key
	err     error
}

func (e RequirementUnsatisfiableError) Error() string {
	return fmt.Sprintf(`shard %d failed to satisfy requirements "%s": %s`, e.ShardID, e.Key, e.err)
}

func (e RequirementUnsatisfiableError) Unwrap() error {
	return e.err
}
