package safety

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// forceOffTimeout bounds a single forced-off write.
const forceOffTimeout = 10 * time.Second

// DefaultRetryDelay is used when a forced-off write fails and no retry
// delay is configured.
const DefaultRetryDelay = 5 * time.Second

// Logger defines the logging interface used by the Controller.
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

// Forcer switches a provider off without re-notifying the controller.
// GetState is used to settle the outcome when an on-write races the
// forced-off write.
type Forcer interface {
	ForceOff(ctx context.Context, id string) (provider.State, error)
	GetState(ctx context.Context, id string) (provider.State, error)
}

// Notifier publishes a forced state to subscribers.
type Notifier interface {
	BroadcastStates(states ...provider.State)
}

// Recorder counts forced-off events for metrics.
type Recorder interface {
	SafetyForcedOff(id string)
}

type noopRecorder struct{}

func (noopRecorder) SafetyForcedOff(string) {}

// Config lists the actuators that may only stay on for a bounded time.
type Config struct {
	// Limits maps provider id to its maximum on-duration.
	Limits map[string]time.Duration

	// RetryDelay is the wait before retrying a failed forced-off write.
	RetryDelay time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// entry is an armed timer for one actuator. gen distinguishes it from
// any earlier timer for the same id whose callback may still be in flight.
//
// While firing, the forced-off write is in flight and the entry stays in
// place so that concurrent observations cannot arm a second timer;
// reopened records whether the last of them reported on.
type entry struct {
	deadline time.Time
	timer    *clock.Timer
	gen      uint64
	firing   bool
	reopened bool
}

// Controller enforces maximum on-durations for eligible actuators.
//
// Each eligible actuator is either idle or armed with a deadline. A
// pending deadline exists exactly while the actuator is believed to be on.
// When the deadline passes the actuator is forced off and the forced
// state is broadcast once.
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	clock      clock.Clock
	limits     map[string]time.Duration
	retryDelay time.Duration
	forcer     Forcer

	notifier Notifier
	recorder Recorder
	logger   Logger

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	closed  bool
}

// New creates a Controller that uses forcer for expiry writes.
func New(cfg Config, forcer Forcer) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	limits := make(map[string]time.Duration, len(cfg.Limits))
	for id, d := range cfg.Limits {
		limits[id] = d
	}

	return &Controller{
		clock:      clk,
		limits:     limits,
		retryDelay: retry,
		forcer:     forcer,
		recorder:   noopRecorder{},
		logger:     noopLogger{},
		entries:    make(map[string]*entry),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetNotifier sets where forced states are broadcast. Called during
// startup once the hub exists.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// SetRecorder sets the metrics recorder.
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

// Eligible reports whether id has an on-duration limit.
func (c *Controller) Eligible(id string) bool {
	_, ok := c.limits[id]
	return ok
}

// Observe updates the timer for st.ID. Ineligible ids are ignored.
//
// An on state arms the timer if idle; an actuator that is already armed
// keeps its original deadline, unless that deadline has already passed,
// in which case it fires immediately. An off state cancels the timer.
// While a forced-off write is in flight the observation is held until the
// write completes.
func (c *Controller) Observe(st provider.State) {
	limit, ok := c.limits[st.ID]
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	e, armed := c.entries[st.ID]
	if armed && e.firing {
		e.reopened = st.On
		return
	}
	if !st.On {
		if armed {
			e.timer.Stop()
			delete(c.entries, st.ID)
			c.logger.Debug("safety timer cancelled", "id", st.ID)
		}
		return
	}

	if armed {
		if !c.clock.Now().Before(e.deadline) {
			e.timer.Stop()
			go c.fire(st.ID, e.gen)
		}
		return
	}

	c.armLocked(st.ID, limit)
	c.logger.Debug("safety timer armed", "id", st.ID, "max_on", limit)
}

// Pending reports whether id has an armed timer.
func (c *Controller) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Deadline returns the armed deadline for id.
func (c *Controller) Deadline(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Close stops every timer. Observe is a no-op afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, id)
	}
}

func (c *Controller) armLocked(id string, after time.Duration) {
	c.gen++
	gen := c.gen
	c.entries[id] = &entry{
		deadline: c.clock.Now().Add(after),
		timer:    c.clock.AfterFunc(after, func() { c.fire(id, gen) }),
		gen:      gen,
	}
}

// fire forces id off if the timer identified by gen is still current.
func (c *Controller) fire(id string, gen uint64) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || e.gen != gen || e.firing || c.closed {
		c.mu.Unlock()
		return
	}
	e.firing = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), forceOffTimeout)
	st, err := c.forcer.ForceOff(ctx, id)
	cancel()

	c.mu.Lock()
	if c.entries[id] == e {
		delete(c.entries, id)
	}
	reopened := e.reopened
	closed := c.closed
	if err != nil && !closed {
		c.armLocked(id, c.retryDelay)
	}
	n := c.notifier
	c.mu.Unlock()

	if closed {
		return
	}
	if err != nil {
		c.logger.Error("safety force-off failed, retrying", "id", id, "retry_in", c.retryDelay, "error", err)
		return
	}

	c.recorder.SafetyForcedOff(id)
	c.logger.Warn("safety timer expired, actuator forced off", "id", id)

	if reopened {
		st = c.reconcile(id, st)
	}
	if n != nil {
		n.BroadcastStates(st)
	}
}

// reconcile re-reads id after an on-write overlapped the forced-off write.
// Whichever write landed last decides the state; an actuator left on is
// armed with a fresh deadline. A failed read is treated as on.
func (c *Controller) reconcile(id string, forced provider.State) provider.State {
	ctx, cancel := context.WithTimeout(context.Background(), forceOffTimeout)
	st, err := c.forcer.GetState(ctx, id)
	cancel()

	if err != nil {
		c.logger.Warn("safety re-read after forced off failed", "id", id, "error", err)
		c.Observe(provider.State{ID: id, On: true})
		return forced
	}
	st.ID = id
	c.Observe(st)
	return st
}
