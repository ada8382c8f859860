package detector

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent is wrapped by every EventError.
var ErrMalformedEvent = errors.New("malformed log event")

// EventError identifies the event that aborted a detection pass.
type EventError struct {
	// Index is the zero-based position of the event in the input sequence
	Index int

	// Field names the offending field: timestamp, level or component
	Field string

	// Value is the raw field value
	Value string

	Err error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %d: invalid %s %q: %v", e.Index, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("event %d: invalid %s %q", e.Index, e.Field, e.Value)
}

func (e *EventError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedEvent}
	}
	return []error{ErrMalformedEvent, e.Err}
}
