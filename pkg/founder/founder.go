// Package founder implements the one-time genesis founder wallet and its public seal.
//
// The seal binds the founder public key, the initial MIC allocation and the
// sealing time:
//
//	sealHash = hex(sha256(publicKey ":" initialBalance ":" sealedAt))
//
// with initialBalance fixed to two decimals and sealedAt in RFC 3339 UTC.
package founder

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/keys"
)

// ErrAlreadySealed is returned when a verified founder record already exists
var ErrAlreadySealed = errors.New("founder wallet already sealed")

// DefaultInitialBalance is the genesis MIC allocation
var DefaultInitialBalance = decimal.NewFromInt(1_000_000)

// Genesis is a freshly generated founder wallet. The private key lives only here.
type Genesis struct {
	KeyPair        *keys.KeyPair
	InitialBalance decimal.Decimal
}

// Record is the publicly readable founder registry entry
type Record struct {
	ID             string          `json:"-"`
	PublicKey      string          `json:"publicKey"`
	Address        string          `json:"address"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	SealedAt       time.Time       `json:"sealedAt"`
	SealHash       string          `json:"sealHash"`
	Verified       bool            `json:"verified"`
}

// SealInput is what the seal commits to
type SealInput struct {
	PublicKey      string
	InitialBalance decimal.Decimal
	Timestamp      time.Time
}

// GenerateFounderWallet creates a keypair with the given allocation,
// DefaultInitialBalance when zero.
func GenerateFounderWallet(initialBalance decimal.Decimal) (*Genesis, error) {
	if initialBalance.IsZero() {
		initialBalance = DefaultInitialBalance
	}
	if initialBalance.IsNegative() {
		return nil, fmt.Errorf("initial balance must be positive, got %s", initialBalance)
	}

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate founder keypair: %w", err)
	}
	return &Genesis{KeyPair: kp, InitialBalance: initialBalance}, nil
}

// DeriveAddress returns the checksummed display address of a hex public key
func DeriveAddress(publicKeyHex string) (string, error) {
	return keys.AddressFromPublicKeyHex(publicKeyHex)
}

// sealTime is the precision the seal commits to, which survives a database round trip
func sealTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateFounderSeal computes the seal hash for in
func CreateFounderSeal(in SealInput) string {
	payload := in.PublicKey + ":" + in.InitialBalance.StringFixed(2) + ":" + sealTime(in.Timestamp).Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyFounderSeal recomputes the seal from the record's fields and compares it to sealHash
func VerifyFounderSeal(record *Record, sealHash string) bool {
	if record == nil || sealHash == "" {
		return false
	}
	expected := CreateFounderSeal(SealInput{
		PublicKey:      record.PublicKey,
		InitialBalance: record.InitialBalance,
		Timestamp:      record.SealedAt,
	})
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sealHash)) == 1
}

// NewRecord seals g at now and returns the registry record to persist
func NewRecord(g *Genesis, now time.Time) (*Record, error) {
	publicKey := g.KeyPair.PublicKeyHex()
	address, err := DeriveAddress(publicKey)
	if err != nil {
		return nil, err
	}

	sealedAt := sealTime(now)
	return &Record{
		ID:             uuid.NewString(),
		PublicKey:      publicKey,
		Address:        address,
		InitialBalance: g.InitialBalance,
		SealedAt:       sealedAt,
		SealHash: CreateFounderSeal(SealInput{
			PublicKey:      publicKey,
			InitialBalance: g.InitialBalance,
			Timestamp:      sealedAt,
		}),
		Verified: true,
	}, nil
}
