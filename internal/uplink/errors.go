package uplink

import "errors"

var (
	// ErrDisabled is returned by Run once the uplink has been permanently
	// disabled. It is never retried.
	ErrDisabled = errors.New("uplink: permanently disabled")

	// ErrCredentialExpired means this gateway's client certificate has
	// expired. It disables the uplink.
	ErrCredentialExpired = errors.New("uplink: client certificate expired")

	// ErrDial is returned when the peer cannot be reached.
	ErrDial = errors.New("uplink: dial failed")

	// ErrRejected is returned when the peer refuses the handshake.
	ErrRejected = errors.New("uplink: rejected by peer")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("uplink: invalid config")
)
