package provider

import (
	"context"
	"fmt"
	"sync"
)

// Line is a single binary output line.
type Line interface {
	// Out drives the line high (true) or low (false).
	Out(high bool) error

	// Read returns the current electrical level of the line.
	Read() (bool, error)
}

// LocalActuator is a binary output wired to this host, such as a relay
// driving a pump or heater.
//
// The actuator remembers the last level it drove so reads do not depend
// on the line supporting readback of outputs.
//
// Thread Safety: All methods are safe for concurrent use.
type LocalActuator struct {
	id        string
	line      Line
	activeLow bool

	mu sync.Mutex
	on bool
}

// NewLocalActuator creates an actuator on line. With activeLow the line is
// driven low to switch the load on. The initial state is read from the line.
func NewLocalActuator(id string, line Line, activeLow bool) (*LocalActuator, error) {
	a := &LocalActuator{
		id:        id,
		line:      line,
		activeLow: activeLow,
	}

	high, err := line.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading initial level: %w", ErrBackend, id, err)
	}
	a.on = high != activeLow

	return a, nil
}

// ID returns the provider id.
func (a *LocalActuator) ID() string { return a.id }

// Kind returns KindLocalActuator.
func (a *LocalActuator) Kind() Kind { return KindLocalActuator }

// Get returns the last driven state.
func (a *LocalActuator) Get(_ context.Context) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return State{ID: a.id, On: a.on}, nil
}

// Set drives the line. Any positive level switches the actuator on.
func (a *LocalActuator) Set(_ context.Context, level int) (State, error) {
	on := level > 0

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.line.Out(on != a.activeLow); err != nil {
		return State{}, fmt.Errorf("%w: %s: %w", ErrBackend, a.id, err)
	}
	a.on = on

	return State{ID: a.id, On: on}, nil
}
