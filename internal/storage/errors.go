package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionConflict is returned when a version-checked sandbox update
// finds a different version than the caller supplied. The caller must
// re-read the sandbox and retry with the fresh version.
var ErrVersionConflict = errors.New("storage: version conflict")

// ErrReferenced is returned when a delete or in-place update would break
// a live assistant's reference (e.g. editing a personality that a
// promoted assistant uses).
var ErrReferenced = errors.New("storage: referenced by a live assistant")
