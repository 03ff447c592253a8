// Package serializationerrors holds the errors returned while converting
// domain events to and from their wire format.
package serializationerrors

import "fmt"

// ErrNilEvent indicates that a nil event was provided for serialization/deserialization
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return fmt.Sprintf("nil %s event", e.EventType) }

// ErrInvalidUUID indicates that a UUID field could not be parsed
type ErrInvalidUUID struct {
	Field string
	Err   error
}

func (e ErrInvalidUUID) Error() string { return fmt.Sprintf("invalid %s: %v", e.Field, e.Err) }

func (e ErrInvalidUUID) Unwrap() error { return e.Err }

// ErrUnexpectedPayload indicates a payload of the wrong Go type for its event type.
type ErrUnexpectedPayload struct {
	EventType string
	Got       any
}

func (e ErrUnexpectedPayload) Error() string {
	return fmt.Sprintf("unexpected payload %T for event %s", e.Got, e.EventType)
}

// ErrInvalidTimestamp indicates a timestamp field that is not RFC 3339.
type ErrInvalidTimestamp struct {
	Field string
	Err   error
}

func (e ErrInvalidTimestamp) Error() string { return fmt.Sprintf("invalid %s: %v", e.Field, e.Err) }

func (e ErrInvalidTimestamp) Unwrap() error { return e.Err }
