package auth

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTokenTTL is the lifetime of every issued token.
const DefaultTokenTTL = 30 * time.Minute

// Config holds the trust material for an Authenticator.
type Config struct {
	// Secret signs and verifies tokens (HS256).
	Secret string

	// TTL is the token lifetime. Defaults to DefaultTokenTTL.
	TTL time.Duration

	// Issuer is recorded in every token, normally the gateway id.
	Issuer string

	// PasswordHashes are accepted subscriber passwords (Argon2id PHC).
	PasswordHashes []string

	// PeerCredentialHashes are accepted peer gateway credentials (Argon2id PHC).
	PeerCredentialHashes []string

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Authenticator verifies secrets and issues and checks bearer tokens.
//
// Verification is memory-hard and takes tens of milliseconds; callers on
// a session read loop should expect that latency.
//
// Thread Safety: All methods are safe for concurrent use.
type Authenticator struct {
	secret         []byte
	ttl            time.Duration
	issuer         string
	passwordHashes []string
	peerHashes     []string
	clock          clock.Clock
}

// New creates an Authenticator. Every configured hash must be a valid
// Argon2id PHC string.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, ErrWeakSecret
	}
	for _, h := range cfg.PasswordHashes {
		if err := ValidateHash(h); err != nil {
			return nil, fmt.Errorf("password hash: %w", err)
		}
	}
	for _, h := range cfg.PeerCredentialHashes {
		if err := ValidateHash(h); err != nil {
			return nil, fmt.Errorf("peer credential hash: %w", err)
		}
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Authenticator{
		secret:         []byte(cfg.Secret),
		ttl:            ttl,
		issuer:         cfg.Issuer,
		passwordHashes: append([]string(nil), cfg.PasswordHashes...),
		peerHashes:     append([]string(nil), cfg.PeerCredentialHashes...),
		clock:          clk,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

// Authenticate checks a subscriber password and issues a subscriber token.
func (a *Authenticator) Authenticate(password string) (Token, error) {
	return a.authenticate(password, a.passwordHashes, RoleSubscriber)
}

// AuthenticatePeer checks a peer credential and issues a peer token.
func (a *Authenticator) AuthenticatePeer(credential string) (Token, error) {
	return a.authenticate(credential, a.peerHashes, RolePeer)
}

func (a *Authenticator) authenticate(secret string, hashes []string, role Role) (Token, error) {
	if secret == "" || !verifyAny(secret, hashes) {
		return Token{}, ErrInvalidCredentials
	}
	return issueToken(role, a.issuer, a.secret, a.clock.Now(), a.ttl)
}

// Verify checks a bearer token and returns its claims. Every failure
// wraps ErrUnauthorized.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	return parseToken(token, a.secret, a.clock.Now)
}

// Reauthenticate issues a fresh token with the same role for a caller
// whose token has already been verified.
func (a *Authenticator) Reauthenticate(claims *Claims) (Token, error) {
	if claims == nil || !claims.Role.IsValid() {
		return Token{}, ErrTokenInvalid
	}
	return issueToken(claims.Role, a.issuer, a.secret, a.clock.Now(), a.ttl)
}
