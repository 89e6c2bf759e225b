package provider

import "errors"

// Domain errors for the provider package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, provider.ErrNotFound) {
//	    // unknown id, no backend was contacted
//	}
var (
	// ErrNotFound is returned when a provider id is not registered.
	ErrNotFound = errors.New("provider: not found")

	// ErrDuplicateID is returned when two providers share an id.
	ErrDuplicateID = errors.New("provider: duplicate id")

	// ErrInvalidIntent is returned for an empty, ambiguous or negative intent.
	ErrInvalidIntent = errors.New("provider: invalid intent")

	// ErrBackend wraps transport and device failures reported by a backend.
	ErrBackend = errors.New("provider: backend failure")

	// ErrUnparseableState is returned when a remote switch replies with a
	// body that carries no recognisable state.
	ErrUnparseableState = errors.New("provider: unparseable state")

	// ErrLineNotFound is returned when a GPIO line name is unknown to the host.
	ErrLineNotFound = errors.New("provider: gpio line not found")
)
