package store

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("document not found")

// TransitionError is returned when a status change would break the
// monotonic lifecycle uploaded -> processing -> processed|failed.
type TransitionError struct {
	DocumentID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("illegal status transition to %s for document %s", e.To, e.DocumentID)
	}
	return fmt.Sprintf("illegal status transition %s -> %s for document %s", e.From, e.To, e.DocumentID)
}

// PersistenceError wraps a failed storage write. The pipeline treats it as
// terminal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
