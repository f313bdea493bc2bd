// Package security issues the unguessable values a session hands out: the
// nonce binding an authorization request to its id_token, and the one-time
// token guarding logout.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// NonceSize is the entropy of an authorization request nonce in bytes.
	NonceSize = 16

	// CSRFTokenSize is the entropy of a logout token in bytes.
	CSRFTokenSize = 32
)

// NewNonce returns a nonce for one authorization request. The id_token that
// answers the request must echo it.
func NewNonce() (string, error) {
	return randomToken(NonceSize, "nonce")
}

// NewCSRFToken returns a single-use token for state-changing requests.
func NewCSRFToken() (string, error) {
	return randomToken(CSRFTokenSize, "CSRF token")
}

// randomToken encodes size random bytes as unpadded base64url, which is safe
// in query strings, fragments and headers alike.
func randomToken(size int, what string) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", what, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
