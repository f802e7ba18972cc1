package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PasswordIterations is the PBKDF2 work factor for new hashes
	PasswordIterations = 120000
	passwordKeyLen     = 64
	passwordSaltLen    = 16
)

// HashPassword derives a PBKDF2-SHA512 hash stored as "iterations:salt:hash"
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	// The hex salt string is the PBKDF2 salt so existing hashes keep verifying.
	derived := pbkdf2.Key([]byte(password), []byte(saltHex), PasswordIterations, passwordKeyLen, sha512.New)
	return fmt.Sprintf("%d:%s:%s", PasswordIterations, saltHex, hex.EncodeToString(derived)), nil
}

// VerifyPassword checks a password against a stored hash in constant time
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return false
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 || parts[1] == "" || parts[2] == "" {
		return false
	}
	expected, err := hex.DecodeString(parts[2])
	if err != nil || len(expected) != passwordKeyLen {
		return false
	}
	derived := pbkdf2.Key([]byte(password), []byte(parts[1]), iterations, passwordKeyLen, sha512.New)
	return subtle.ConstantTimeCompare(expected, derived) == 1
}
