package node

import (
	"github.com/gofrs/uuid/v5"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func newRegistrationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.PrefixError(err, "cannot generate registration ID")
	}
	return id.String(), nil
}
