package habitica

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when Habitica has no task with the requested id,
// typically because the user deleted it by hand.
var ErrNotFound = errors.New("habitica task not found")

// StatusError is returned for any other non-success HTTP status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("habitica %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// PayloadError is returned when a successful response cannot be understood.
type PayloadError struct {
	Payload string
	Err     error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("habitica: malformed response %s: %v", e.Payload, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
