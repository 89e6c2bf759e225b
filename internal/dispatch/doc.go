// Package dispatch resolves provider ids and routes get/set requests to
// the matching backend, classifying failures into the gateway's error
// taxonomy and notifying the state-change observer on every successful
// write.
package dispatch
