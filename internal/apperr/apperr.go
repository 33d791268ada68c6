// Package apperr defines the error kinds every core operation reports.
//
// Callers match kinds with errors.Is; the wrapped message carries the detail.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a malformed or missing field. Never retried automatically.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState marks an operation that is not legal in the session's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound marks an unknown id.
	ErrNotFound = errors.New("not found")
	// ErrNoEligibleStaff is transient; retry after a delay or on the next presence change.
	ErrNoEligibleStaff = errors.New("no eligible staff")
	// ErrConflict marks a lost compare-and-set race. Re-read and retry once.
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks an actor whose role does not grant the capability.
	ErrForbidden = errors.New("forbidden")
)

// InvalidInput wraps ErrInvalidInput with a formatted detail.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// InvalidState wraps ErrInvalidState with a formatted detail.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind of record and its id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// Conflict wraps ErrConflict with a formatted detail.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a formatted detail.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// TransitionError reports a status change outside the session state machine.
// It is an InvalidState kind.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Unwrap lets errors.Is(err, ErrInvalidState) match transition failures.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}

// Kind returns the sentinel kind carried by err, or nil for infrastructure errors.
func Kind(err error) error {
	for _, kind := range []error{ErrInvalidInput, ErrInvalidState, ErrNotFound, ErrNoEligibleStaff, ErrConflict, ErrForbidden} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
