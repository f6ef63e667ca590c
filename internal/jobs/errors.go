package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState marks a lifecycle call whose status precondition failed.
	// The record is never mutated; consumers ack the message since this is the
	// expected outcome of a duplicate delivery.
	ErrInvalidState = errors.New("invalid job state")

	// ErrUnknownJobType marks a registry miss. Fatal for the message.
	ErrUnknownJobType = errors.New("no handler registered for job type")
)

// stateError carries an exact message while matching ErrInvalidState through
// errors.Is.
type stateError struct {
	msg string
}

func (e stateError) Error() string {
	return e.msg
}

func (e stateError) Is(target error) bool {
	return target == ErrInvalidState
}

func invalidState(format string, args ...interface{}) error {
	return stateError{msg: fmt.Sprintf(format, args...)}
}
