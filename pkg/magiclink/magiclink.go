// Package magiclink models single-use passwordless login tokens.
package magiclink

import (
	"errors"
	"time"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
)

// ErrInvalidOrExpired is the only error a caller ever sees for a bad link:
// unknown, already used, expired and forged links are indistinguishable.
var ErrInvalidOrExpired = errors.New("invalid or expired link")

// ErrReplay marks an attempt to consume a link that was already used.
// It is logged, then surfaced as ErrInvalidOrExpired.
var ErrReplay = errors.New("magic link already consumed")

// Token is the stored record of an issued link. Only the token hash is kept.
type Token struct {
	TokenHash string
	UserID    string
	Type      token.LinkType
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Consumable reports whether the link is unused and unexpired at now
func (t *Token) Consumable(now time.Time) bool {
	return t != nil && t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// Issued is returned to the caller that delivers the link out of band
type Issued struct {
	Token     string         `json:"-"`
	URL       string         `json:"-"`
	Type      token.LinkType `json:"type"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Consumed is the outcome of a successful consumption
type Consumed struct {
	UserID string
	Type   token.LinkType
}
