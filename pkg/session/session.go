// Package session models issued access tokens tracked for revocation.
package session

import "time"

// Session binds the hash of one issued token to a user.
// The token itself is never stored. PairHash links the access and refresh
// sessions of one sign-in so they are revoked together.
type Session struct {
	TokenHash string
	PairHash  string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// IsValid is false for a nil, revoked or expired session
func IsValid(s *Session, now time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}
