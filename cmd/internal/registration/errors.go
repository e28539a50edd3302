package registration

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("registration not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrAlreadyRegistered = errors.New("already registered for event")
	ErrCapacityExceeded  = errors.New("event capacity exceeded")
	ErrAlreadyAttended   = errors.New("registration already attended")
	ErrNotAuthorized     = errors.New("not authorized")
)
