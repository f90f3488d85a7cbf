// Package service implements the session registry: issued access tokens are
// tracked by hash so they can be revoked before they expire.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// Store is the narrow data-access interface for the session registry.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, tokenHash string) (*session.Session, error)
	RevokeSession(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int, error)
}

// Service defines the session registry operations
type Service interface {
	// Create records the hash of accessToken. The token itself is never stored.
	Create(ctx context.Context, userID, accessToken string, expiresAt time.Time) (*session.Session, error)
	// CreatePair records both tokens of a sign-in, linked so that revoking one revokes the other.
	CreatePair(ctx context.Context, userID string, pair *token.Pair) error
	// IsValid is false for unknown, revoked and expired sessions
	IsValid(ctx context.Context, tokenHash string) (bool, error)
	// Revoke revokes the session and the other half of its pair
	Revoke(ctx context.Context, tokenHash string) error
	// Consume revokes a live session and its pair in one step. It reports false
	// when the session was unknown, already revoked or expired.
	Consume(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// Option configures the registry
type Option func(*registry)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *registry) {
		r.now = now
	}
}

type registry struct {
	store Store
	now   func() time.Time
}

// NewService creates a session registry backed by store
func NewService(store Store, opts ...Option) Service {
	r := &registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *registry) Create(ctx context.Context, userID, accessToken string, expiresAt time.Time) (*session.Session, error) {
	s := &session.Session{
		TokenHash: token.HashToken(accessToken),
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: r.now(),
	}
	if err := r.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (r *registry) CreatePair(ctx context.Context, userID string, pair *token.Pair) error {
	now := r.now()
	accessHash := token.HashToken(pair.AccessToken)
	refreshHash := token.HashToken(pair.RefreshToken)

	// refresh half first; a failed access insert revokes it again
	if err := r.store.CreateSession(ctx, &session.Session{
		TokenHash: refreshHash,
		PairHash:  accessHash,
		UserID:    userID,
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("create refresh session: %w", err)
	}
	if err := r.store.CreateSession(ctx, &session.Session{
		TokenHash: accessHash,
		PairHash:  refreshHash,
		UserID:    userID,
		ExpiresAt: pair.AccessExpiresAt,
		CreatedAt: now,
	}); err != nil {
		_, _ = r.store.RevokeSession(ctx, refreshHash, now)
		return fmt.Errorf("create access session: %w", err)
	}
	return nil
}

func (r *registry) IsValid(ctx context.Context, tokenHash string) (bool, error) {
	s, err := r.store.GetSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, userstore.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get session: %w", err)
	}
	return session.IsValid(s, r.now()), nil
}

func (r *registry) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.revokePair(ctx, tokenHash)
	return err
}

func (r *registry) Consume(ctx context.Context, tokenHash string) (bool, error) {
	return r.revokePair(ctx, tokenHash)
}

// revokePair reports whether the session named by tokenHash was live. Its pair
// is revoked either way.
func (r *registry) revokePair(ctx context.Context, tokenHash string) (bool, error) {
	s, err := r.store.GetSession(ctx, tokenHash)
	if errors.Is(err, userstore.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}

	now := r.now()
	revoked, err := r.store.RevokeSession(ctx, tokenHash, now)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	if revoked {
		metrics.SessionsRevoked.Inc()
	}
	if s.PairHash != "" {
		pairRevoked, err := r.store.RevokeSession(ctx, s.PairHash, now)
		if err != nil {
			return false, fmt.Errorf("revoke paired session: %w", err)
		}
		if pairRevoked {
			metrics.SessionsRevoked.Inc()
		}
	}
	return revoked, nil
}

func (r *registry) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := r.store.RevokeUserSessions(ctx, userID, r.now())
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	metrics.SessionsRevoked.Add(float64(n))
	return n, nil
}
