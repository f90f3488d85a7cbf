// Package token mints and verifies the signed tokens used by the identity API:
// short-lived access tokens, refresh tokens and single-use magic-link tokens.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned for a well-formed, correctly signed token past its expiry
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed, forged and wrong-kind tokens
	ErrTokenInvalid = errors.New("token invalid")
	// ErrNotConfigured is returned at construction when no usable signing secret is present
	ErrNotConfigured = errors.New("token signing secret not configured")
)

// Kind discriminates the token families. Access tokens carry no type claim.
type Kind string

const (
	KindAccess    Kind = ""
	KindRefresh   Kind = "refresh"
	KindMagicLink Kind = "magic_link"
)

// LinkType is the purpose of a magic-link token
type LinkType string

const (
	LinkLogin         LinkType = "login"
	LinkVerifyEmail   LinkType = "verify_email"
	LinkResetPassword LinkType = "reset_password"
)

// Valid reports whether l is one of the known link types
func (l LinkType) Valid() bool {
	switch l {
	case LinkLogin, LinkVerifyEmail, LinkResetPassword:
		return true
	default:
		return false
	}
}

// Subject is the identity embedded in an access token
type Subject struct {
	UserID          string
	Handle          string
	Email           string
	IsFounder       bool
	TrustLevel      int
	WalletPublicKey string
}

// AccessClaims are the claims of an access token
type AccessClaims struct {
	UserID          string `json:"userId"`
	Handle          string `json:"handle"`
	Email           string `json:"email"`
	IsFounder       bool   `json:"isFounder"`
	TrustLevel      int    `json:"trustLevel"`
	WalletPublicKey string `json:"walletPublicKey,omitempty"`
	Type            Kind   `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns the identity carried by the claims
func (c *AccessClaims) Subject() Subject {
	return Subject{
		UserID:          c.UserID,
		Handle:          c.Handle,
		Email:           c.Email,
		IsFounder:       c.IsFounder,
		TrustLevel:      c.TrustLevel,
		WalletPublicKey: c.WalletPublicKey,
	}
}

// RefreshClaims are the claims of a refresh token
type RefreshClaims struct {
	UserID string `json:"userId"`
	Type   Kind   `json:"type"`
	jwt.RegisteredClaims
}

// MagicLinkClaims are the claims of a magic-link token
type MagicLinkClaims struct {
	UserID   string   `json:"userId"`
	Type     Kind     `json:"type"`
	LinkType LinkType `json:"linkType"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair with derived expiry metadata
type Pair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int64     `json:"expiresIn"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// HashToken returns hex(sha256(token)). Only this form is ever persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
