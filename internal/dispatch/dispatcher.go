package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is told about every successful state change before the caller
// sees the result. The safety-timer controller is the production observer.
type Observer interface {
	Observe(state provider.State)
}

// Recorder receives per-call outcomes for metrics.
type Recorder interface {
	ProviderCall(op string, kind provider.Kind, err error, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ProviderCall(string, provider.Kind, error, time.Duration) {}

// Dispatcher routes get/set requests to providers by id and classifies
// their failures.
//
// Concurrent SetState calls on the same provider are not serialised; the
// backend decides which write lands last.
//
// The last non-zero level seen for each provider is remembered so that a
// toggle from off restores a dimmable switch to where it was.
//
// Thread Safety: All methods are safe for concurrent use once the
// observer has been set during startup.
type Dispatcher struct {
	registry *provider.Registry
	observer Observer
	recorder Recorder
	logger   Logger

	mu        sync.Mutex
	lastLevel map[string]int
}

// New creates a Dispatcher over registry.
func New(registry *provider.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		recorder:  noopRecorder{},
		logger:    noopLogger{},
		lastLevel: make(map[string]int),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetObserver sets the state-change observer. It must be called before
// the dispatcher serves requests.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// SetRecorder sets the metrics recorder.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// Providers returns every provider id in registration order.
func (d *Dispatcher) Providers() []string {
	return d.registry.IDs()
}

// GetState reads the current state of provider id. A successful read is
// passed to the observer, so an actuator found on is bounded like one
// switched on through SetState.
//
// Unknown ids fail with provider.ErrNotFound without contacting any backend.
func (d *Dispatcher) GetState(ctx context.Context, id string) (provider.State, error) {
	p, err := d.registry.Resolve(id)
	if err != nil {
		return provider.State{}, err
	}

	start := time.Now()
	st, err := p.Get(ctx)
	d.recorder.ProviderCall("get", p.Kind(), err, time.Since(start))
	if err != nil {
		return provider.State{}, classify(p, err)
	}

	st.ID = id
	d.Observe(st)
	return st, nil
}

// SetState applies intent to provider id and returns the resulting state.
//
// A toggle reads the current value first and writes its inverse; toggling
// on restores the last remembered level, or 1 if none is known. On
// success the observer has seen the new state by the time SetState returns.
func (d *Dispatcher) SetState(ctx context.Context, id string, intent provider.Intent) (provider.State, error) {
	st, err := d.apply(ctx, id, intent)
	if err != nil {
		return provider.State{}, err
	}

	d.Observe(st)
	return st, nil
}

// ForceOff switches provider id off without notifying the observer.
func (d *Dispatcher) ForceOff(ctx context.Context, id string) (provider.State, error) {
	return d.apply(ctx, id, provider.On(false))
}

// Observe forwards an externally sourced state to the observer.
func (d *Dispatcher) Observe(st provider.State) {
	d.remember(st.ID, st)
	if d.observer != nil {
		d.observer.Observe(st)
	}
}

func (d *Dispatcher) apply(ctx context.Context, id string, intent provider.Intent) (provider.State, error) {
	p, err := d.registry.Resolve(id)
	if err != nil {
		return provider.State{}, err
	}

	if err := intent.Validate(); err != nil {
		return provider.State{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	var level int
	if intent.Toggle {
		start := time.Now()
		current, err := p.Get(ctx)
		d.recorder.ProviderCall("get", p.Kind(), err, time.Since(start))
		if err != nil {
			return provider.State{}, classify(p, err)
		}
		d.remember(id, current)
		if !current.On {
			level = d.restoreLevel(id)
		}
	} else {
		level = *intent.Value
	}

	start := time.Now()
	st, err := p.Set(ctx, level)
	d.recorder.ProviderCall("set", p.Kind(), err, time.Since(start))
	if err != nil {
		d.logger.Warn("provider write failed", "id", id, "level", level, "error", err)
		return provider.State{}, classify(p, err)
	}

	st.ID = id
	d.remember(id, st)
	d.logger.Debug("provider state set", "id", id, "on", st.On, "level", st.Level)
	return st, nil
}

// remember keeps the level of an on state that reports one.
func (d *Dispatcher) remember(id string, st provider.State) {
	if !st.On || st.Level <= 0 {
		return
	}
	d.mu.Lock()
	d.lastLevel[id] = st.Level
	d.mu.Unlock()
}

func (d *Dispatcher) restoreLevel(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if level, ok := d.lastLevel[id]; ok {
		return level
	}
	return 1
}

// classify maps a backend failure to the dispatcher's error taxonomy.
func classify(p provider.Provider, err error) error {
	if p.Kind() == provider.KindRemote {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrInternalFailure, err)
}
