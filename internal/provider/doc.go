// Package provider defines the actuator backends the gateway controls and
// the registry that names them.
//
// Every backend satisfies the same Provider contract, so callers never
// inspect concrete types:
//
//   - RemoteSwitch: an HTTP switch on the local network (GET /?state=n)
//   - LocalActuator: a relay or similar output on a host GPIO line
//   - MemorySwitch: an in-process remote stand-in for development
//
// The Registry is built once at startup and is read-only afterwards.
package provider
