package reconcile

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPerson = errors.New("invalid person: name is empty")
	ErrEmptyName     = errors.New("item name is empty")
	// ErrAggregateDerived is returned when a caller tries to set the aggregate
	// pseudo-person on an item whose status is derived from real persons.
	ErrAggregateDerived = errors.New("aggregate status is derived from responsible persons")
	ErrSessionClosed    = errors.New("session closed")
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// WriteError is a failed push of one document to the hub.
type WriteError struct {
	Path string
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("remote write %s failed: %v", e.Path, e.Err)
}

func (e WriteError) Unwrap() error { return e.Err }
