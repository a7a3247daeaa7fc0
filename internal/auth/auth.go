// Package auth validates the bearer tokens issued by the identity provider.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Authenticator validates API keys against a configured set of hashes.
type Authenticator struct {
	keyHashes []string
}

// NewAuthenticator creates an authenticator from SHA-256 key hashes.
func NewAuthenticator(keyHashes []string) *Authenticator {
	return &Authenticator{keyHashes: keyHashes}
}

// ValidateAPIKey reports whether the given key is accepted.
func (a *Authenticator) ValidateAPIKey(apiKey string) error {
	hash := HashAPIKey(apiKey)

	// Constant-time comparison to prevent timing attacks
	for _, known := range a.keyHashes {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(known)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("invalid API key")
}

// ExtractAPIKey extracts the API key from the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
