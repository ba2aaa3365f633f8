package semindex

import "errors"

var (
	// ErrInvalidK is returned when a search is requested with k <= 0.
	ErrInvalidK = errors.New("k must be a positive integer")

	// ErrEmptyVector is returned when a zero-length vector is indexed or queried.
	ErrEmptyVector = errors.New("vector must be non-empty")

	// ErrConnection is returned when the index backend is unreachable.
	ErrConnection = errors.New("semantic index connection failed")
)
