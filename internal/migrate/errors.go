package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrNameFormat is matched by every *NameFormatError.
	ErrNameFormat = errors.New("invalid migration name")

	// ErrExecution is matched by every *ExecutionError.
	ErrExecution = errors.New("migration failed")

	// ErrDuplicateNumber is returned when two migrations share a number.
	ErrDuplicateNumber = errors.New("duplicate migration number")

	// ErrPendingChanges is returned when Run is given a Context that
	// already tracks entities.
	ErrPendingChanges = errors.New("context has tracked entities")
)

// NameFormatError reports a migration whose name does not follow
// prefix_<number>_<description>. It is returned before any migration runs.
type NameFormatError struct {
	// Name is the offending migration name.
	Name string

	// Reason says which part of the name is wrong.
	Reason string
}

// Error implements the error interface.
func (e *NameFormatError) Error() string {
	return fmt.Sprintf("migration %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrNameFormat.
func (e *NameFormatError) Unwrap() error { return ErrNameFormat }

// ExecutionError wraps the failure of one migration. Its transaction was
// aborted and no later migration ran.
type ExecutionError struct {
	Number int64
	Name   string
	Err    error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration %s (%d): %v", e.Name, e.Number, e.Err)
}

// Unwrap returns both ErrExecution and the cause, so errors.Is matches
// either.
func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Err} }

// IsNameFormatError returns true if err is or wraps a *NameFormatError.
// Uses errors.As to handle wrapped errors.
func IsNameFormatError(err error) bool {
	var ne *NameFormatError
	return errors.As(err, &ne)
}

// IsExecutionError returns true if err is or wraps an *ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
