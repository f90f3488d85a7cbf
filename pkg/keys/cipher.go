package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// MasterKeySize is the AES-256 master key size
const MasterKeySize = 32

// ErrInvalidMasterKey is returned for master keys that are not 32 bytes
var ErrInvalidMasterKey = errors.New("master key must be 32 bytes (AES-256)")

// KeyCipher encrypts custodial private keys before they are persisted
type KeyCipher interface {
	Encrypt(privateKey []byte) (string, error)
	Decrypt(encrypted string) ([]byte, error)
}

// MasterKeyCipher is an AES-256-GCM KeyCipher keyed by the process master key.
// Output is base64(nonce || ciphertext || tag).
type MasterKeyCipher struct {
	aead cipher.AEAD
}

// NewMasterKeyCipher creates a cipher for the given 32-byte master key
func NewMasterKeyCipher(masterKey []byte) (*MasterKeyCipher, error) {
	if len(masterKey) != MasterKeySize {
		return nil, ErrInvalidMasterKey
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &MasterKeyCipher{aead: gcm}, nil
}

// Encrypt seals a 32-byte private key
func (c *MasterKeyCipher) Encrypt(privateKey []byte) (string, error) {
	if len(privateKey) != PrivateKeySize {
		return "", fmt.Errorf("private key must be %d bytes (secp256k1)", PrivateKeySize)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, privateKey, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *MasterKeyCipher) Decrypt(encrypted string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	if len(plaintext) != PrivateKeySize {
		return nil, fmt.Errorf("decrypted key has wrong size: got %d, want %d", len(plaintext), PrivateKeySize)
	}

	return plaintext, nil
}

// GenerateMasterKey returns a random 32-byte master key
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromBase64 decodes a base64 master key (openssl rand -base64 32)
func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, ErrInvalidMasterKey
	}
	return key, nil
}

// MasterKeyToBase64 encodes a master key for an environment variable
func MasterKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
