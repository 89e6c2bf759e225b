// Package safety bounds how long selected actuators may stay on.
//
// The Controller observes every successful state change. Switching an
// eligible actuator on arms a timer; switching it off cancels the timer.
// When a timer expires the actuator is forced off through the dispatcher
// (without re-entering the controller) and the resulting state is
// broadcast exactly once. A failed forced write is retried, so an armed
// deadline never stays in the past.
//
// Time is read from a benbjohnson/clock Clock so tests can drive the
// state machine with a mock clock.
package safety
