// Package keys generates the secp256k1 wallet keypairs backing custodial MIC wallets
// and the founder wallet, and encrypts private keys for storage.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const (
	// PrivateKeySize is the size of a raw secp256k1 private key
	PrivateKeySize = 32
	// PublicKeySize is the size of a compressed secp256k1 public key
	PublicKeySize = 33
)

// KeyPair is a secp256k1 wallet keypair
type KeyPair struct {
	PublicKey  []byte // 33-byte compressed public key
	PrivateKey []byte // 32-byte private key
}

// GenerateKeyPair generates a new random secp256k1 keypair
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 keypair: %w", err)
	}

	return &KeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: crypto.FromECDSA(privateKey),
	}, nil
}

// KeyPairFromPrivateKey rebuilds a keypair from a raw 32-byte private key
func KeyPairFromPrivateKey(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(privateKey))
	}
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	pk := make([]byte, PrivateKeySize)
	copy(pk, privateKey)
	return &KeyPair{
		PublicKey:  crypto.CompressPubkey(&key.PublicKey),
		PrivateKey: pk,
	}, nil
}

// DeriveKeyPair deterministically derives a keypair from a seed and a label using HKDF-SHA256.
// The same seed and label always yield the same keypair.
func DeriveKeyPair(seed []byte, label string) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	reader := hkdf.New(sha256.New, seed, nil, []byte("mobius-wallet-"+label))
	privateKey := make([]byte, PrivateKeySize)
	if _, err := io.ReadFull(reader, privateKey); err != nil {
		return nil, fmt.Errorf("failed to derive key seed: %w", err)
	}

	return KeyPairFromPrivateKey(privateKey)
}

// PublicKeyHex returns the compressed public key as lowercase hex without prefix
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// PrivateKeyHex returns the private key as a hex string with 0x prefix (wallet import format)
func (kp *KeyPair) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(kp.PrivateKey)
}

// Address returns the EIP-55 checksummed address of the keypair
func (kp *KeyPair) Address() string {
	addr, err := AddressFromPublicKey(kp.PublicKey)
	if err != nil {
		// PublicKey is always produced by CompressPubkey above.
		panic(err)
	}
	return addr
}

// AddressFromPublicKey derives the EIP-55 checksummed address from a compressed
// (33-byte) or uncompressed (65-byte) secp256k1 public key.
func AddressFromPublicKey(publicKey []byte) (string, error) {
	switch len(publicKey) {
	case PublicKeySize:
		pub, err := crypto.DecompressPubkey(publicKey)
		if err != nil {
			return "", fmt.Errorf("invalid compressed public key: %w", err)
		}
		return crypto.PubkeyToAddress(*pub).Hex(), nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(publicKey)
		if err != nil {
			return "", fmt.Errorf("invalid public key: %w", err)
		}
		return crypto.PubkeyToAddress(*pub).Hex(), nil
	default:
		return "", fmt.Errorf("public key must be 33 or 65 bytes, got %d", len(publicKey))
	}
}

// AddressFromPublicKeyHex is AddressFromPublicKey for hex input, with or without 0x prefix
func AddressFromPublicKeyHex(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid public key hex: %w", err)
	}
	return AddressFromPublicKey(raw)
}
