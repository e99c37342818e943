package oauthserver

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// generateToken returns a URL-safe opaque random token with at least n bytes
// of entropy (n=16 gives the ≥128 bits §4.G requires for authorization codes;
// n=32 gives the ≥256 bits required for access/refresh tokens).
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// verifyPKCE checks verifier against a stored S256 code_challenge per RFC 7636:
// challenge == BASE64URL-ENCODE(SHA256(ASCII(verifier))), no padding.
func verifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
