package racestore

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("entity not found")
	ErrInvalidField = errors.New("invalid timing field")
)

// NotFoundError identifies the stale reference behind a no-op mutation
type NotFoundError struct {
	Entity    string
	ID        int
	Operation string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %d not found", e.Operation, e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
