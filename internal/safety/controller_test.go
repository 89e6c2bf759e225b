package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

const maxOn = 10 * time.Minute

// fakeForcer records force-off calls and fails the first failN of them.
// When gate is set each ForceOff blocks until it is closed. readOn is what
// GetState reports.
type fakeForcer struct {
	mu     sync.Mutex
	calls  []string
	failN  int
	done   chan string
	gate   chan struct{}
	readOn bool
}

func newFakeForcer(failN int) *fakeForcer {
	return &fakeForcer{failN: failN, done: make(chan string, 10)}
}

func (f *fakeForcer) ForceOff(_ context.Context, id string) (provider.State, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	fail := len(f.calls) <= f.failN
	f.mu.Unlock()

	f.done <- id
	if f.gate != nil {
		<-f.gate
	}
	if fail {
		return provider.State{}, errors.New("relay stuck")
	}
	return provider.State{ID: id, On: false}, nil
}

func (f *fakeForcer) GetState(_ context.Context, id string) (provider.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return provider.State{ID: id, On: f.readOn}, nil
}

func (f *fakeForcer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeNotifier collects broadcasts.
type fakeNotifier struct {
	ch chan provider.State
}

func (n *fakeNotifier) BroadcastStates(states ...provider.State) {
	for _, st := range states {
		n.ch <- st
	}
}

type fakeRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *fakeRecorder) SafetyForcedOff(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func newTestController(failN int) (*Controller, *clock.Mock, *fakeForcer, *fakeNotifier) {
	mock := clock.NewMock()
	forcer := newFakeForcer(failN)
	notifier := &fakeNotifier{ch: make(chan provider.State, 10)}
	c := New(Config{
		Limits:     map[string]time.Duration{"pump": maxOn},
		RetryDelay: time.Minute,
		Clock:      mock,
	}, forcer)
	c.SetNotifier(notifier)
	return c, mock, forcer, notifier
}

func waitBroadcast(t *testing.T, n *fakeNotifier) provider.State {
	t.Helper()
	select {
	case st := <-n.ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return provider.State{}
	}
}

func expectNoBroadcast(t *testing.T, n *fakeNotifier) {
	t.Helper()
	select {
	case st := <-n.ch:
		t.Fatalf("unexpected broadcast %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestController_ExpiryForcesOffOnce(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)
	rec := &fakeRecorder{}
	c.SetRecorder(rec)

	c.Observe(provider.State{ID: "pump", On: true})
	deadline, ok := c.Deadline("pump")
	if !ok || !deadline.Equal(mock.Now().Add(maxOn)) {
		t.Fatalf("Deadline() = %v, %v; want now+%v", deadline, ok, maxOn)
	}

	mock.Add(maxOn)

	st := waitBroadcast(t, notifier)
	if st.ID != "pump" || st.On {
		t.Errorf("broadcast = %+v, want pump off", st)
	}
	expectNoBroadcast(t, notifier)

	if forcer.Calls() != 1 {
		t.Errorf("force-off calls = %d, want 1", forcer.Calls())
	}
	if c.Pending("pump") {
		t.Error("deadline still pending after expiry")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ids) != 1 {
		t.Errorf("recorded forced-offs = %v, want one", rec.ids)
	}
}

func TestController_OffBeforeDeadlineCancels(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)

	c.Observe(provider.State{ID: "pump", On: true})
	c.Observe(provider.State{ID: "pump", On: false})
	if c.Pending("pump") {
		t.Fatal("off did not cancel the timer")
	}

	mock.Add(2 * maxOn)

	expectNoBroadcast(t, notifier)
	if forcer.Calls() != 0 {
		t.Errorf("force-off calls = %d, want 0", forcer.Calls())
	}
}

func TestController_RepeatedOnKeepsDeadline(t *testing.T) {
	c, mock, _, _ := newTestController(0)

	c.Observe(provider.State{ID: "pump", On: true})
	first, _ := c.Deadline("pump")

	mock.Add(maxOn / 2)
	c.Observe(provider.State{ID: "pump", On: true})

	second, ok := c.Deadline("pump")
	if !ok || !second.Equal(first) {
		t.Errorf("deadline moved from %v to %v", first, second)
	}
}

func TestController_IgnoresIneligible(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)

	c.Observe(provider.State{ID: "porch", On: true})
	if c.Pending("porch") || c.Eligible("porch") {
		t.Fatal("ineligible provider armed")
	}

	mock.Add(2 * maxOn)
	expectNoBroadcast(t, notifier)
	if forcer.Calls() != 0 {
		t.Errorf("force-off calls = %d, want 0", forcer.Calls())
	}
}

func TestController_PastDeadlineFiresOnObserve(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)

	c.Observe(provider.State{ID: "pump", On: true})

	// Simulate a timer callback that has not run although its deadline passed.
	c.mu.Lock()
	c.entries["pump"].deadline = mock.Now().Add(-time.Second)
	c.mu.Unlock()

	c.Observe(provider.State{ID: "pump", On: true})

	if st := waitBroadcast(t, notifier); st.On {
		t.Errorf("broadcast = %+v, want off", st)
	}
	if forcer.Calls() != 1 {
		t.Errorf("force-off calls = %d, want 1", forcer.Calls())
	}
	if c.Pending("pump") {
		t.Error("deadline still pending")
	}
}

func TestController_FailedForceOffRetries(t *testing.T) {
	c, mock, forcer, notifier := newTestController(1)

	c.Observe(provider.State{ID: "pump", On: true})
	mock.Add(maxOn)

	<-forcer.done
	waitFor(t, func() bool { return c.Pending("pump") })
	expectNoBroadcast(t, notifier)

	deadline, _ := c.Deadline("pump")
	if !deadline.After(mock.Now()) {
		t.Errorf("retry deadline %v is not in the future (now %v)", deadline, mock.Now())
	}

	mock.Add(time.Minute)
	<-forcer.done

	if st := waitBroadcast(t, notifier); st.On {
		t.Errorf("broadcast = %+v, want off", st)
	}
	if forcer.Calls() != 2 {
		t.Errorf("force-off calls = %d, want 2", forcer.Calls())
	}
	waitFor(t, func() bool { return !c.Pending("pump") })
}

func TestController_OnDuringForcedOffKeepsActuatorBounded(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)
	forcer.gate = make(chan struct{})
	forcer.readOn = true

	c.Observe(provider.State{ID: "pump", On: true})
	mock.Add(maxOn)
	<-forcer.done

	// A set-on lands after the forced-off write was sent.
	c.Observe(provider.State{ID: "pump", On: true})
	close(forcer.gate)

	if st := waitBroadcast(t, notifier); !st.On {
		t.Errorf("broadcast = %+v, want the re-read on state", st)
	}
	deadline, ok := c.Deadline("pump")
	if !ok || !deadline.Equal(mock.Now().Add(maxOn)) {
		t.Errorf("Deadline() = %v, %v; want a fresh now+%v", deadline, ok, maxOn)
	}
	expectNoBroadcast(t, notifier)
}

func TestController_OnDuringForcedOffSettlesOff(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)
	forcer.gate = make(chan struct{})

	c.Observe(provider.State{ID: "pump", On: true})
	mock.Add(maxOn)
	<-forcer.done

	// The set-on reached the backend before the forced-off write.
	c.Observe(provider.State{ID: "pump", On: true})
	close(forcer.gate)

	if st := waitBroadcast(t, notifier); st.On {
		t.Errorf("broadcast = %+v, want off", st)
	}
	if c.Pending("pump") {
		t.Error("deadline pending while the actuator is off")
	}

	mock.Add(2 * maxOn)
	expectNoBroadcast(t, notifier)
	if forcer.Calls() != 1 {
		t.Errorf("force-off calls = %d, want 1", forcer.Calls())
	}
}

func TestController_Close(t *testing.T) {
	c, mock, forcer, notifier := newTestController(0)

	c.Observe(provider.State{ID: "pump", On: true})
	c.Close()
	c.Observe(provider.State{ID: "pump", On: true})

	mock.Add(2 * maxOn)
	expectNoBroadcast(t, notifier)
	if forcer.Calls() != 0 {
		t.Errorf("force-off calls = %d, want 0", forcer.Calls())
	}
}
