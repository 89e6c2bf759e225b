package provider

import "context"

// Kind identifies how a provider is reached.
type Kind string

const (
	// KindRemote is an HTTP-addressable switch on the local network.
	KindRemote Kind = "remote"

	// KindLocalActuator is a binary output line wired to this host.
	KindLocalActuator Kind = "local-actuator"
)

// State is a point-in-time snapshot of a provider.
//
// Level carries the numeric value reported by dimmable remote switches;
// binary providers leave it zero.
type State struct {
	ID    string `json:"id"`
	On    bool   `json:"on"`
	Level int    `json:"level,omitempty"`
}

// Intent describes a requested change. Exactly one of Value or Toggle
// must be set.
type Intent struct {
	// Value is the absolute target: zero is off, anything positive is on.
	Value *int

	// Toggle flips the current on/off value.
	Toggle bool
}

// Validate reports ErrInvalidIntent unless exactly one form is present
// and an absolute value is non-negative.
func (i Intent) Validate() error {
	switch {
	case i.Value == nil && !i.Toggle:
		return ErrInvalidIntent
	case i.Value != nil && i.Toggle:
		return ErrInvalidIntent
	case i.Value != nil && *i.Value < 0:
		return ErrInvalidIntent
	}
	return nil
}

// SetTo returns an absolute intent for level.
func SetTo(level int) Intent {
	return Intent{Value: &level}
}

// On returns an absolute on/off intent.
func On(on bool) Intent {
	if on {
		return SetTo(1)
	}
	return SetTo(0)
}

// Toggle returns a toggle intent.
func Toggle() Intent {
	return Intent{Toggle: true}
}

// Provider is the uniform contract every actuator backend satisfies.
//
// Implementations must be safe for concurrent use. Set with level zero
// switches the provider off; any positive level switches it on.
type Provider interface {
	ID() string
	Kind() Kind
	Get(ctx context.Context) (State, error)
	Set(ctx context.Context, level int) (State, error)
}

// Addressed is implemented by providers reachable at a network address.
type Addressed interface {
	Address() string
}

// StateAt builds the snapshot for provider id at a numeric level.
func StateAt(id string, level int) State {
	return State{ID: id, On: level > 0, Level: level}
}
