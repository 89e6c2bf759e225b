package dispatch

import "errors"

// Failure classes reported by the Dispatcher. Together with
// provider.ErrNotFound they form the error taxonomy the hub reports to
// clients:
//
//	ErrBadRequest      -> 400
//	provider.ErrNotFound -> 404
//	ErrInternalFailure -> 500
//	ErrUnreachable     -> 502
var (
	// ErrBadRequest is returned when an intent is empty or malformed.
	ErrBadRequest = errors.New("dispatch: bad request")

	// ErrUnreachable is returned when a remote provider cannot be reached
	// or replies with garbage.
	ErrUnreachable = errors.New("dispatch: provider unreachable")

	// ErrInternalFailure is returned when a local actuator write fails.
	ErrInternalFailure = errors.New("dispatch: internal failure")
)
