package todoist

import (
	"errors"
	"fmt"
)

// ErrInvalidToken is returned when Todoist rejects the API token.
var ErrInvalidToken = errors.New("invalid Todoist API token, check https://todoist.com/app/settings/integrations/developer")

// StatusError is returned for any other non-success HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("todoist sync: status %d: %s", e.StatusCode, e.Body)
}

// PayloadError describes a record or response that could not be decoded.
type PayloadError struct {
	Payload string
	Err     error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("todoist: malformed record %s: %v", e.Payload, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
