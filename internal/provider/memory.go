package provider

import (
	"context"
	"sync"
	"time"
)

// MemorySwitch is an in-process stand-in for a RemoteSwitch, used in dev
// mode when the real switches are not on the network. Every call waits
// for the configured latency so client code sees realistic timing.
type MemorySwitch struct {
	id      string
	address string
	latency time.Duration

	mu    sync.Mutex
	level int

	// failWith, when set, is returned by every call.
	failWith error
}

// NewMemorySwitch creates an off switch registered at address.
func NewMemorySwitch(id, address string, latency time.Duration) *MemorySwitch {
	return &MemorySwitch{
		id:      id,
		address: address,
		latency: latency,
	}
}

// ID returns the provider id.
func (m *MemorySwitch) ID() string { return m.id }

// Kind returns KindRemote; the switch stands in for a network device.
func (m *MemorySwitch) Kind() Kind { return KindRemote }

// Address returns the address the switch pretends to live at.
func (m *MemorySwitch) Address() string { return m.address }

// Get returns the stored level.
func (m *MemorySwitch) Get(ctx context.Context) (State, error) {
	if err := m.wait(ctx); err != nil {
		return State{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return State{}, m.failWith
	}
	return StateAt(m.id, m.level), nil
}

// Set stores level.
func (m *MemorySwitch) Set(ctx context.Context, level int) (State, error) {
	if err := m.wait(ctx); err != nil {
		return State{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return State{}, m.failWith
	}
	m.level = level
	return StateAt(m.id, m.level), nil
}

// Fail makes every subsequent call return err. A nil err restores normal operation.
func (m *MemorySwitch) Fail(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

func (m *MemorySwitch) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MemoryLine is a Line that only remembers its level. Dev mode uses it in
// place of host GPIO pins.
type MemoryLine struct {
	mu   sync.Mutex
	high bool
}

// Out stores the level.
func (l *MemoryLine) Out(high bool) error {
	l.mu.Lock()
	l.high = high
	l.mu.Unlock()
	return nil
}

// Read returns the stored level.
func (l *MemoryLine) Read() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high, nil
}
