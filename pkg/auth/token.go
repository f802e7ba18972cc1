package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenLength is the number of random bytes in a generated token (256 bits)
const TokenLength = 32

// GenerateToken creates an opaque URL-safe token.
// Format: base64url(32 random bytes), no padding.
func GenerateToken() (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// HashToken computes the SHA256 hash of a token so stores never keep the raw value
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks that a token decodes to the expected length
func ValidateTokenFormat(token string) error {
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("invalid token length")
	}
	return nil
}
