package codec

import (
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
)

// ImportCorruptError means the imported bytes are incomplete or damaged, nothing has been applied.
type ImportCorruptError struct {
	err error
}

type NotDownloadedError struct {
	Key constraint.Key
}

func (e ImportCorruptError) Error() string {
	return "cannot import requirement: " + e.err.Error()
}

func (e ImportCorruptError) Unwrap() error {
	return e.err
}

func (e NotDownloadedError) Error() string {
	return `requirement "` + e.Key.String() + `" is not downloaded, nothing to export`
}
