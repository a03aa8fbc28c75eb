// Package auth implements the broker's single-shared-token authentication:
// the first command on a new session must be Connect, and when a token is
// configured its authToken header must match byte-for-byte.
package auth

import "crypto/subtle"

// Authenticator validates the authToken header presented on Connect. When
// no token is configured (Configured() == false), every Connect succeeds —
// the header is not even inspected.
type Authenticator struct {
	token []byte
}

// New creates an Authenticator for the given shared token. An empty token
// disables authentication entirely: Validate always succeeds.
func New(token string) *Authenticator {
	return &Authenticator{token: []byte(token)}
}

// Configured reports whether a shared token was set.
func (a *Authenticator) Configured() bool {
	return len(a.token) > 0
}

// Validate performs a constant-time, byte-exact comparison against the
// configured token. With no token configured, it always succeeds.
func (a *Authenticator) Validate(presented string) bool {
	if !a.Configured() {
		return true
	}
	p := []byte(presented)
	if len(p) != len(a.token) {
		return false
	}
	return subtle.ConstantTimeCompare(p, a.token) == 1
}
