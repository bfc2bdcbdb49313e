package scheduler

import (
	"errors"
	"fmt"
)

// BadRequestError reports caller input the scheduler refuses to work with.
type BadRequestError struct {
	Field   string
	Message string
}

func (e BadRequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func badRequest(field, format string, args ...any) error {
	return BadRequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvariantError signals a programming or data error that must not be papered over.
type InvariantError struct {
	Message string
}

func (e InvariantError) Error() string {
	return "invariant violated: " + e.Message
}

func invariant(format string, args ...any) error {
	return InvariantError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnknownActivity is returned when an update names a guid with no persisted record.
var ErrUnknownActivity = errors.New("unknown scheduled activity")

func IsBadRequest(err error) bool {
	var br BadRequestError
	return errors.As(err, &br)
}

func IsInvariant(err error) bool {
	var ie InvariantError
	return errors.As(err, &ie)
}
