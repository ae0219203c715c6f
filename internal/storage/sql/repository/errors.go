package repository

import "errors"

// Sentinel errors for distinguishing between different error conditions
// surfaced from the SQL repository, mirroring the mapping done at the
// core package boundary.
var (
	ErrInvalidDialect = errors.New("repository: unsupported dialect")
)
