package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)
