package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("already exists")
	// ErrInvalidStatus rejects a status outside the workflow vocabulary.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrPersistence wraps backend failures. It is fatal for an ingestion run.
	ErrPersistence = errors.New("persistence failure")
)

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
