package registry

import (
	"fmt"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
)

type NotFoundError struct {
	Key constraint.Key
}

type InvalidTransitionError struct {
	Key    constraint.Key
	Reason string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf(`requirement "%s" not found`, e.Key)
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf(`invalid transition of requirement "%s": %s`, e.Key, e.Reason)
}
