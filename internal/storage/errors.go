package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCheckpointRegression is returned when SetCheckpoint would move the
	// checkpoint backwards.
	ErrCheckpointRegression = errors.New("checkpoint regression")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
