package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrNoEncryptionKey is returned when neither a key value nor a key file is configured.
	ErrNoEncryptionKey = errors.New("security: encryption key is not configured")
	// ErrInvalidEncryptionKey is returned when the configured key is not a base64 encoded 32-byte key.
	ErrInvalidEncryptionKey = errors.New("security: invalid encryption key")
	// ErrDecrypt is returned when a ciphertext is malformed, tampered, or sealed under another key.
	ErrDecrypt = errors.New("security: decrypt failed")
)

// EncryptionError wraps a cipher failure with the operation that produced it.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("security: %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Cipher seals short secrets with XChaCha20-Poly1305.
// The encoded token is base64url(nonce || ciphertext || tag).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, &EncryptionError{Op: "init", Err: fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidEncryptionKey, chacha20poly1305.KeySize, len(key))}
	}
	aead, errAEAD := chacha20poly1305.NewX(key)
	if errAEAD != nil {
		return nil, &EncryptionError{Op: "init", Err: errAEAD}
	}
	return &Cipher{aead: aead}, nil
}

// LoadCipher resolves the key from an explicit value first, then from a key file.
// Any failure here is meant to abort startup.
func LoadCipher(value, keyFile string) (*Cipher, error) {
	encoded := strings.TrimSpace(value)
	if encoded == "" {
		path := strings.TrimSpace(keyFile)
		if path == "" {
			return nil, &EncryptionError{Op: "load key", Err: ErrNoEncryptionKey}
		}
		raw, errRead := os.ReadFile(path)
		if errRead != nil {
			return nil, &EncryptionError{Op: "load key", Err: fmt.Errorf("read %s: %w", path, errRead)}
		}
		encoded = strings.TrimSpace(string(raw))
		if encoded == "" {
			return nil, &EncryptionError{Op: "load key", Err: fmt.Errorf("%w: key file %s is empty", ErrInvalidEncryptionKey, path)}
		}
	}
	key, errDecode := decodeKey(encoded)
	if errDecode != nil {
		return nil, &EncryptionError{Op: "load key", Err: errDecode}
	}
	return NewCipher(key)
}

// GenerateKey returns a fresh base64 encoded key suitable for LoadCipher.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", &EncryptionError{Op: "encrypt", Err: errors.New("cipher not initialized")}
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", &EncryptionError{Op: "encrypt", Err: err}
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	if c == nil || c.aead == nil {
		return "", &EncryptionError{Op: "decrypt", Err: errors.New("cipher not initialized")}
	}
	raw, errDecode := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if errDecode != nil {
		return "", &EncryptionError{Op: "decrypt", Err: fmt.Errorf("%w: malformed token", ErrDecrypt)}
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", &EncryptionError{Op: "decrypt", Err: fmt.Errorf("%w: token too short", ErrDecrypt)}
	}
	plain, errOpen := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if errOpen != nil {
		return "", &EncryptionError{Op: "decrypt", Err: fmt.Errorf("%w: authentication failed", ErrDecrypt)}
	}
	return string(plain), nil
}

func decodeKey(encoded string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		key, err := enc.DecodeString(encoded)
		if err != nil {
			continue
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidEncryptionKey, chacha20poly1305.KeySize, len(key))
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: not valid base64", ErrInvalidEncryptionKey)
}
