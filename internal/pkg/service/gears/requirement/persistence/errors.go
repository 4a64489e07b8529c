package persistence

import "fmt"

// PersistenceCorruptError means the persisted state cannot be trusted, the node must not start with it.
type PersistenceCorruptError struct {
	Path   string
	Offset int64
	Reason string
}

func (e PersistenceCorruptError) Error() string {
	return fmt.Sprintf(`corrupted file "%s" at offset %d: %s`, e.Path, e.Offset, e.Reason)
}
