// Package service issues and consumes single-use magic links.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// Store is the narrow data-access interface for magic links.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	CreateMagicLink(ctx context.Context, t *magiclink.Token) error
	GetMagicLink(ctx context.Context, tokenHash string) (*magiclink.Token, error)
	ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*magiclink.Token, error)
}

// Tokens mints and verifies the signed link tokens
type Tokens interface {
	CreateMagicLinkToken(userID string, linkType token.LinkType) (string, time.Time, error)
	VerifyMagicLinkToken(raw string) (*token.MagicLinkClaims, error)
}

// Service defines the magic link operations
type Service interface {
	Issue(ctx context.Context, userID string, linkType token.LinkType) (*magiclink.Issued, error)
	// Consume marks the link used. Every failure is magiclink.ErrInvalidOrExpired;
	// a second consumption additionally matches magiclink.ErrReplay.
	Consume(ctx context.Context, raw string) (*magiclink.Consumed, error)
}

// Option configures the issuer
type Option func(*issuer)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(i *issuer) {
		i.now = now
	}
}

type issuer struct {
	store   Store
	tokens  Tokens
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a magic link issuer. Links point at baseURL with a token query parameter.
func NewService(store Store, tokens Tokens, baseURL string, logger *zap.Logger, opts ...Option) (Service, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid magic link base url: %w", err)
	}
	i := &issuer{
		store:   store,
		tokens:  tokens,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *issuer) Issue(ctx context.Context, userID string, linkType token.LinkType) (*magiclink.Issued, error) {
	raw, expiresAt, err := i.tokens.CreateMagicLinkToken(userID, linkType)
	if err != nil {
		metrics.MagicLinks.WithLabelValues("issue", string(linkType), "error").Inc()
		return nil, fmt.Errorf("mint magic link: %w", err)
	}

	rec := &magiclink.Token{
		TokenHash: token.HashToken(raw),
		UserID:    userID,
		Type:      linkType,
		ExpiresAt: expiresAt,
		CreatedAt: i.now(),
	}
	if err := i.store.CreateMagicLink(ctx, rec); err != nil {
		metrics.MagicLinks.WithLabelValues("issue", string(linkType), "error").Inc()
		return nil, fmt.Errorf("store magic link: %w", err)
	}

	metrics.MagicLinks.WithLabelValues("issue", string(linkType), "success").Inc()
	return &magiclink.Issued{
		Token:     raw,
		URL:       i.linkURL(raw),
		Type:      linkType,
		ExpiresAt: expiresAt,
	}, nil
}

func (i *issuer) linkURL(raw string) string {
	u, _ := url.Parse(i.baseURL)
	q := u.Query()
	q.Set("token", raw)
	u.RawQuery = q.Encode()
	return u.String()
}

func (i *issuer) Consume(ctx context.Context, raw string) (*magiclink.Consumed, error) {
	claims, err := i.tokens.VerifyMagicLinkToken(raw)
	if err != nil {
		return nil, i.reject("", "token verification failed", err)
	}
	linkType := string(claims.LinkType)

	hash := token.HashToken(raw)
	rec, err := i.store.ConsumeMagicLink(ctx, hash, i.now())
	if errors.Is(err, userstore.ErrMagicLinkNotConsumable) {
		return nil, i.diagnose(ctx, hash, linkType)
	}
	if err != nil {
		metrics.MagicLinks.WithLabelValues("consume", linkType, "error").Inc()
		return nil, fmt.Errorf("consume magic link: %w", err)
	}

	if rec.Type != claims.LinkType || rec.UserID != claims.UserID {
		return nil, i.reject(linkType, "stored link does not match token claims", nil)
	}

	metrics.MagicLinks.WithLabelValues("consume", linkType, "success").Inc()
	return &magiclink.Consumed{UserID: rec.UserID, Type: rec.Type}, nil
}

// diagnose looks up why a link could not be consumed. The reason is logged only.
func (i *issuer) diagnose(ctx context.Context, hash, linkType string) error {
	rec, err := i.store.GetMagicLink(ctx, hash)
	switch {
	case errors.Is(err, userstore.ErrMagicLinkNotFound):
		return i.reject(linkType, "link not found", nil)
	case err != nil:
		return i.reject(linkType, "link lookup failed", err)
	case rec.UsedAt != nil:
		metrics.MagicLinks.WithLabelValues("consume", linkType, "replay").Inc()
		i.logger.Warn("magic link replay",
			zap.String("user_id", rec.UserID),
			zap.Time("used_at", *rec.UsedAt))
		return fmt.Errorf("%w: %w", magiclink.ErrInvalidOrExpired, magiclink.ErrReplay)
	default:
		return i.reject(linkType, "link expired", nil)
	}
}

func (i *issuer) reject(linkType, reason string, cause error) error {
	metrics.MagicLinks.WithLabelValues("consume", linkType, "rejected").Inc()
	i.logger.Debug("magic link rejected", zap.String("reason", reason), zap.Error(cause))
	return magiclink.ErrInvalidOrExpired
}
