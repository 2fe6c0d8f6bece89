package manager

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// APIKeyPrefix starts every generated key.
const APIKeyPrefix = "sk-"

// apiKeyBytes is the entropy of a generated key; the encoded key is
// always len(APIKeyPrefix)+43 characters.
const apiKeyBytes = 32

// AuthGate issues and checks per-deployment API keys.
type AuthGate struct {
	enabled bool
}

// NewAuthGate returns a gate; with enabled=false every request passes.
func NewAuthGate(enabled bool) *AuthGate { return &AuthGate{enabled: enabled} }

// Enabled reports whether keys are checked system-wide.
func (g *AuthGate) Enabled() bool { return g.enabled }

// GenerateKey returns "sk-" followed by URL-safe base64 of 32 random bytes.
func (g *AuthGate) GenerateKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Authorize checks presented against d. An empty presented key is reported
// as missing, distinct from a wrong key.
func (g *AuthGate) Authorize(d Deployment, presented string) error {
	if !g.enabled || !d.APIKeyEnabled {
		return nil
	}
	if presented == "" {
		return unauthorizedError{missing: true}
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(d.APIKey)) != 1 {
		return unauthorizedError{}
	}
	return nil
}
