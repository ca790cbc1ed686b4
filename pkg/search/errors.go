package search

import (
	"errors"
	"fmt"
)

// StateError reports that a search could not be started.
type StateError struct {
	Op  string
	Msg string
	Err error
}

// Error implements the error interface
func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" {
		msg = "bluetooth state error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StateError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinels by message so wrapped copies still compare equal.
// A target without a message never matches.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok || e == nil || t == nil || t.Msg == "" {
		return false
	}
	return e.Msg == t.Msg
}

// Predefined startup failures
var (
	ErrNotStarted       = &StateError{Msg: "service search did not start"}
	ErrStackUnavailable = &StateError{Msg: "bluetooth stack unavailable"}
	ErrTooManySearches  = &StateError{Msg: "too many concurrent service searches"}
)

// NewStateError wraps cause as a startup failure of kind sentinel.
func NewStateError(sentinel *StateError, op string, cause error) *StateError {
	return &StateError{Op: op, Msg: sentinel.Msg, Err: cause}
}

// IsStateError reports whether err carries a *StateError
func IsStateError(err error) bool {
	var serr *StateError
	return errors.As(err, &serr)
}
