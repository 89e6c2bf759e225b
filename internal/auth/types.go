package auth

import (
	"errors"
	"fmt"
	"time"
)

// Role distinguishes the two kinds of authenticated session.
type Role string

const (
	// RoleSubscriber is an operator console or panel that authenticated
	// with a password.
	RoleSubscriber Role = "subscriber"

	// RolePeer is another gateway that authenticated with the shared
	// peer credential.
	RolePeer Role = "peer"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleSubscriber || r == RolePeer
}

// Token is an issued bearer token and the instant it stops being accepted.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sentinel errors for auth operations.
//
// Every rejection wraps ErrUnauthorized, so callers mapping errors to
// wire codes only need one errors.Is check.
var (
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrTokenMissing       = fmt.Errorf("%w: missing token", ErrUnauthorized)
	ErrTokenInvalid       = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrTokenExpired       = fmt.Errorf("%w: token has expired", ErrUnauthorized)

	// ErrInvalidHash is returned at construction for a malformed PHC string.
	ErrInvalidHash = errors.New("auth: invalid password hash")

	// ErrWeakSecret is returned at construction for a missing signing secret.
	ErrWeakSecret = errors.New("auth: signing secret is empty")
)
