package syncer

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned by ProcessQueue when another run is active.
// The trigger is dropped, not queued.
var ErrRunInProgress = errors.New("syncer: run already in progress")

// ValidationError means the payload does not have the shape its action type
// requires. It goes through the same retry path as a remote failure.
type ValidationError struct {
	Type string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload for %s: %v", e.Type, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RemoteError means the handler reported failure, returned an error or panicked.
// Message is stored verbatim in the action metadata.
type RemoteError struct {
	Message string
	Err     error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.Err }

// UnknownTypeError means no handler is registered for the action type.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "Unknown Action Type: " + e.Type
}
