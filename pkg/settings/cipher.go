package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength    = 64
	ivLength      = 16
	tagLength     = 16
	keyLength     = 32
	keyIterations = 100000

	// MinKeyLength is the shortest accepted ENCRYPTION_KEY
	MinKeyLength = 32

	plainPrefix = "plain:"
)

var (
	ErrKeyTooShort = fmt.Errorf("ENCRYPTION_KEY must be at least %d characters long", MinKeyLength)
	ErrNoKey       = errors.New("cannot decrypt: ENCRYPTION_KEY not set")
	ErrDecrypt     = errors.New("failed to decrypt password, check ENCRYPTION_KEY")
)

// Cipher encrypts secrets at rest with AES-256-GCM under a PBKDF2-derived key.
// A Cipher without a key stores values with a "plain:" marker.
type Cipher struct {
	masterKey []byte
}

// NewCipher returns a Cipher for masterKey. An empty key yields a plaintext
// cipher; a short key is rejected.
func NewCipher(masterKey string) (*Cipher, error) {
	if masterKey == "" {
		return &Cipher{}, nil
	}
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	return &Cipher{masterKey: []byte(masterKey)}, nil
}

// Enabled reports whether values are actually encrypted
func (c *Cipher) Enabled() bool {
	return c != nil && len(c.masterKey) > 0
}

func (c *Cipher) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.masterKey, salt, keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLength)
}

// Encrypt returns salt:iv:tag:ciphertext in hex
func (c *Cipher) Encrypt(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	if !c.Enabled() {
		return plainPrefix + text, nil
	}

	salt := make([]byte, saltLength)
	iv := make([]byte, ivLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	aead, err := c.gcm(salt)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	sealed := aead.Seal(nil, iv, []byte(text), nil)
	enc, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(enc),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Values without either marker are returned as-is.
func (c *Cipher) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if strings.HasPrefix(stored, plainPrefix) {
		return strings.TrimPrefix(stored, plainPrefix), nil
	}

	parts := strings.Split(stored, ":")
	if len(parts) != 4 {
		return stored, nil
	}
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return stored, nil
		}
		raw[i] = b
	}
	if !c.Enabled() {
		return "", ErrNoKey
	}

	salt, iv, tag, enc := raw[0], raw[1], raw[2], raw[3]
	if len(iv) != ivLength || len(tag) != tagLength {
		return "", ErrDecrypt
	}
	aead, err := c.gcm(salt)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := aead.Open(nil, iv, append(enc, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
