package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by repositories when a record is absent.
var ErrNotFound = errors.New("not found")

// ErrConflict is wrapped by conditional updates that lost the race on the
// current status guard.
var ErrConflict = errors.New("state conflict")

// StateConflictError is returned by lifecycle transitions attempted against
// the wrong current status.
type StateConflictError struct {
	Op     string
	Status string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s: invalid status %s", e.Op, e.Status)
}

func (e StateConflictError) Is(target error) bool {
	return target == ErrConflict
}
