package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks keys issued by this gateway.
	APIKeyPrefix = "sk-auto-"
	// KeyPrefixLength is the number of leading characters stored for candidate lookup.
	KeyPrefixLength = 12

	apiKeyRandomBytes = 32
)

// GenerateAPIKey returns a new client key: the prefix plus 32 random bytes in unpadded base64url.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateRandomString returns n random bytes encoded as unpadded base64url.
func GenerateRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// KeyPrefix returns the first KeyPrefixLength characters of token, or all of it when shorter.
func KeyPrefix(token string) string {
	if len(token) <= KeyPrefixLength {
		return token
	}
	return token[:KeyPrefixLength]
}

// HashAPIKey returns the bcrypt hash of token.
func HashAPIKey(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("security: hash api key: %w", err)
	}
	return string(hash), nil
}

// CompareAPIKey reports whether token matches the stored bcrypt hash.
func CompareAPIKey(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// MaskSecret renders a secret for display, e.g. "sk-***1234".
func MaskSecret(secret string) string {
	if len(secret) <= 7 {
		return "***"
	}
	return secret[:3] + "***" + secret[len(secret)-4:]
}
