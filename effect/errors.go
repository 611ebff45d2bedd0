package effect

import "errors"

// Sentinel errors for effect execution.
var (
	// ErrInvalidPayload is returned when a built-in effect receives a
	// payload of the wrong shape.
	ErrInvalidPayload = errors.New("invalid effect payload")

	// ErrHandlerPanic is reported when an effect handler panics.
	ErrHandlerPanic = errors.New("effect handler panicked")
)
