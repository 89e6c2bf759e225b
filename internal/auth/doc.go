// Package auth authenticates gateway sessions.
//
// Subscribers present a password and peer gateways present a shared
// credential; both are checked against Argon2id PHC hashes from the
// configuration. A successful check yields an HS256 JWT that expires
// 30 minutes after issue. Holders re-authenticate with a still-valid
// token to obtain a fresh one without presenting the secret again.
package auth
