package apperr

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is a generic sentinel for state conflicts (illegal
	// transitions, stale optimistic-concurrency versions).
	ErrConflict = errors.New("conflict")
)
