// Package user holds the identity domain model: users and their custodial wallets.
package user

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidHandle is returned for handles outside [a-z0-9_.-]{3,32}
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrInvalidEmail is returned for emails without a local part and domain
	ErrInvalidEmail = errors.New("invalid email")
)

var (
	handlePattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]{2,31}$`)
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Trust levels gate privileged actions.
const (
	TrustLevelNew      = 0
	TrustLevelVerified = 1
	TrustLevelFounder  = 9
)

// User is a registered identity
type User struct {
	ID            string
	Handle        string
	Email         string
	PasswordHash  string
	TrustLevel    int
	IsFounder     bool
	EmailVerified bool
	CreatedAt     time.Time
	LastLoginAt   *time.Time
}

// HasPassword reports whether the user can log in with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Wallet is the custodial MIC wallet owned by exactly one user.
// CachedBalance is a read-through cache of the ledger sum, never authoritative.
type Wallet struct {
	ID                  string
	UserID              string
	PublicKey           string
	Address             string
	EncryptedPrivateKey string
	CachedBalance       decimal.Decimal
	IsFounderWallet     bool
	BalanceUpdatedAt    *time.Time
	CreatedAt           time.Time
}

// NormalizeHandle trims and lowercases a handle
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(handle), "@")))
}

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateHandle checks a normalized handle
func ValidateHandle(handle string) error {
	if !handlePattern.MatchString(handle) {
		return ErrInvalidHandle
	}
	return nil
}

// ValidateEmail checks a normalized email
func ValidateEmail(email string) error {
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// New creates a User with normalized handle and email
func New(handle, email, passwordHash string, now time.Time) *User {
	return &User{
		ID:           uuid.NewString(),
		Handle:       NormalizeHandle(handle),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		TrustLevel:   TrustLevelNew,
		CreatedAt:    now,
	}
}

// NewWallet creates an empty wallet for userID
func NewWallet(userID, publicKey, address, encryptedPrivateKey string, now time.Time) *Wallet {
	return &Wallet{
		ID:                  uuid.NewString(),
		UserID:              userID,
		PublicKey:           publicKey,
		Address:             address,
		EncryptedPrivateKey: encryptedPrivateKey,
		CachedBalance:       decimal.Zero,
		CreatedAt:           now,
	}
}

// Profile is the public view of a user
type Profile struct {
	ID            string     `json:"id"`
	Handle        string     `json:"handle"`
	Email         string     `json:"email"`
	TrustLevel    int        `json:"trustLevel"`
	IsFounder     bool       `json:"isFounder"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitzero"`
}

// ToProfile returns the public view of u
func (u *User) ToProfile() *Profile {
	return &Profile{
		ID:            u.ID,
		Handle:        u.Handle,
		Email:         u.Email,
		TrustLevel:    u.TrustLevel,
		IsFounder:     u.IsFounder,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// WalletView is the public view of a wallet. The encrypted key never leaves the server.
// Balance is null when the ledger could not be read; the cached balance is never shown.
type WalletView struct {
	ID              string           `json:"id"`
	PublicKey       string           `json:"publicKey"`
	Address         string           `json:"address"`
	Balance         *decimal.Decimal `json:"balance"`
	IsFounderWallet bool             `json:"isFounderWallet"`
}

// ToView returns the public view of w with the given ledger balance, or none when balance is nil
func (w *Wallet) ToView(balance *decimal.Decimal) *WalletView {
	return &WalletView{
		ID:              w.ID,
		PublicKey:       w.PublicKey,
		Address:         w.Address,
		Balance:         balance,
		IsFounderWallet: w.IsFounderWallet,
	}
}
