package auth

import (
	"crypto/subtle"
	"fmt"
)

// HeaderName is the header Telegram sets on webhook deliveries when the
// webhook was registered with a secret_token.
const HeaderName = "X-Telegram-Bot-Api-Secret-Token"

// SecretToken verifies the shared webhook secret.
type SecretToken struct {
	secret []byte
}

// NewSecretToken creates a verifier for the configured secret.
func NewSecretToken(secret string) (*SecretToken, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty webhook secret")
	}
	return &SecretToken{secret: []byte(secret)}, nil
}

// Verify reports whether the presented header value equals the secret
// byte for byte. Comparison time does not depend on where they differ.
func (s *SecretToken) Verify(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), s.secret) == 1
}
