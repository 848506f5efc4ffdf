package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Encryptor provides AES-256-GCM encryption for values that must never hit
// the database in the clear (OAuth tokens, SSNs). Stored form is
// base64(nonce || ciphertext||tag).
type Encryptor struct {
	key []byte
}

// NewEncryptor builds an Encryptor from a base64-encoded 32-byte key.
func NewEncryptor(keyB64 string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Encryptor{key: key}, nil
}

// NewEncryptorFromEnv reads ENCRYPTION_KEY.
func NewEncryptorFromEnv() (*Encryptor, error) {
	k := os.Getenv("ENCRYPTION_KEY")
	if k == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY not configured")
	}
	return NewEncryptor(k)
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(encoded string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(combined) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := combined[:gcm.NonceSize()], combined[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptSSN validates, encrypts and returns the stored form plus the clear
// last four digits.
func (e *Encryptor) EncryptSSN(ssn string) (encrypted, last4 string, err error) {
	clean := strings.NewReplacer("-", "", " ", "").Replace(ssn)
	if len(clean) != 9 {
		return "", "", Validationf("invalid SSN format")
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return "", "", Validationf("invalid SSN format")
		}
	}
	encrypted, err = e.Encrypt(clean)
	if err != nil {
		return "", "", err
	}
	return encrypted, clean[5:], nil
}

// GenerateKey returns a fresh base64-encoded 256-bit key. Used by ops
// tooling, never at request time.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
