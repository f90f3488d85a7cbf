package service

import (
	"errors"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

// Public failure messages. Every failure of one flow uses the same message.
const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidToken       = "invalid or expired token"
	msgLinkSent           = "if the address is registered, a link has been sent"
)

var (
	// ErrInvalidCredentials covers unknown users, passwordless users and wrong passwords
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionRevoked is returned for a correctly signed token whose session was revoked or already used
	ErrSessionRevoked = errors.New("session revoked or unknown")
)

// RegisterRequest creates an account. Password is optional for magic-link-only accounts.
type RegisterRequest struct {
	Handle   string `json:"handle" validate:"required,min=3,max=33"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
}

// LoginRequest authenticates with a handle or email and a password
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
}

// MagicLinkRequest asks for a link to be sent to Email. Type defaults to login.
type MagicLinkRequest struct {
	Email string         `json:"email" validate:"required,email,max=254"`
	Type  token.LinkType `json:"type,omitempty" validate:"omitempty,oneof=login verify_email reset_password"`
}

// VerifyMagicLinkRequest consumes a link. NewPassword is required for reset_password links.
type VerifyMagicLinkRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword,omitempty" validate:"omitempty,min=8,max=128"`
}

// RefreshRequest carries a refresh token when no refresh cookie is present
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// AuthResponse is returned by every flow that signs the caller in
type AuthResponse struct {
	User   *user.Profile    `json:"user"`
	Wallet *user.WalletView `json:"wallet,omitempty"`
	Tokens *token.Pair      `json:"tokens"`
}

// MagicLinkResponse is identical for known and unknown addresses
type MagicLinkResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// MeResponse is the caller's profile with a live balance
type MeResponse struct {
	User    *user.Profile    `json:"user"`
	Wallet  *user.WalletView `json:"wallet"`
	Balance *ledger.Balance  `json:"balance"`
}
