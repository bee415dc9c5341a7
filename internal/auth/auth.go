// Package auth verifies the shared secret presented by callers.
package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized indicates a missing or wrong auth key.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator checks presented keys against the configured secret.
// An empty configured key disables authentication.
type Authenticator struct {
	key []byte
}

// New creates an authenticator for the configured key.
func New(key string) *Authenticator {
	return &Authenticator{key: []byte(key)}
}

// Enabled reports whether a key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.key) > 0
}

// Verify checks the presented key in constant time.
func (a *Authenticator) Verify(presented string) error {
	if !a.Enabled() {
		return nil
	}
	if subtle.ConstantTimeCompare(a.key, []byte(presented)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
