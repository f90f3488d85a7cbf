package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretLength is the minimum accepted HMAC secret size in bytes
	MinSecretLength = 32

	DefaultAccessTTL    = 15 * time.Minute
	DefaultRefreshTTL   = 7 * 24 * time.Hour
	DefaultMagicLinkTTL = 15 * time.Minute

	refreshKeyInfo = "mobius-refresh-token"
)

// Config configures the token Service
type Config struct {
	Secret        []byte
	RefreshSecret []byte // optional; derived from Secret when empty
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MagicLinkTTL  time.Duration
}

// Option customizes a Service
type Option func(*Service)

// WithClock overrides the time source used for minting and verification
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service mints and verifies HS256 tokens. Verification is pure: no I/O.
type Service struct {
	cfg        Config
	accessKey  []byte
	refreshKey []byte
	now        func() time.Time
}

// NewService validates cfg and derives the refresh key.
// Returns ErrNotConfigured when the secret is missing or too short.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrNotConfigured, MinSecretLength)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrNotConfigured)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.MagicLinkTTL <= 0 {
		cfg.MagicLinkTTL = DefaultMagicLinkTTL
	}

	refreshKey := cfg.RefreshSecret
	if len(refreshKey) == 0 {
		derived, err := deriveRefreshKey(cfg.Secret)
		if err != nil {
			return nil, err
		}
		refreshKey = derived
	} else if len(refreshKey) < MinSecretLength {
		return nil, fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrNotConfigured, MinSecretLength)
	}

	s := &Service{
		cfg:        cfg,
		accessKey:  cfg.Secret,
		refreshKey: refreshKey,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// deriveRefreshKey derives a one-way refresh signing key from the primary secret
func deriveRefreshKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(refreshKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive refresh key: %w", err)
	}
	return key, nil
}

// AccessTTL returns the configured access token lifetime
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// MagicLinkTTL returns the configured magic-link token lifetime
func (s *Service) MagicLinkTTL() time.Duration { return s.cfg.MagicLinkTTL }

func (s *Service) registered(issuedAt time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.cfg.Issuer,
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
}

func sign(claims jwt.Claims, key []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// CreateAccessToken mints an access token for sub
func (s *Service) CreateAccessToken(sub Subject) (string, time.Time, error) {
	now := s.now()
	claims := &AccessClaims{
		UserID:           sub.UserID,
		Handle:           sub.Handle,
		Email:            sub.Email,
		IsFounder:        sub.IsFounder,
		TrustLevel:       sub.TrustLevel,
		WalletPublicKey:  sub.WalletPublicKey,
		RegisteredClaims: s.registered(now, s.cfg.AccessTTL),
	}
	signed, err := sign(claims, s.accessKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// CreateRefreshToken mints a refresh token signed with the refresh key
func (s *Service) CreateRefreshToken(userID string) (string, time.Time, error) {
	now := s.now()
	claims := &RefreshClaims{
		UserID:           userID,
		Type:             KindRefresh,
		RegisteredClaims: s.registered(now, s.cfg.RefreshTTL),
	}
	signed, err := sign(claims, s.refreshKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// CreateMagicLinkToken mints a magic-link token of the given link type
func (s *Service) CreateMagicLinkToken(userID string, linkType LinkType) (string, time.Time, error) {
	if !linkType.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown link type %q", ErrTokenInvalid, linkType)
	}
	now := s.now()
	claims := &MagicLinkClaims{
		UserID:           userID,
		Type:             KindMagicLink,
		LinkType:         linkType,
		RegisteredClaims: s.registered(now, s.cfg.MagicLinkTTL),
	}
	signed, err := sign(claims, s.accessKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// CreateTokenPair mints an access and a refresh token for sub.
// It has no side effects beyond signing.
func (s *Service) CreateTokenPair(sub Subject) (*Pair, error) {
	access, accessExp, err := s.CreateAccessToken(sub)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.CreateRefreshToken(sub.UserID)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.cfg.AccessTTL / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) parse(raw string, claims jwt.Claims, key []byte) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps jwt library errors onto ErrTokenExpired or ErrTokenInvalid.
// The signature is checked before expiry, so a forged expired token is invalid.
func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}

// VerifyAccessToken verifies an access token and rejects other token kinds
func (s *Service) VerifyAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(raw, claims, s.accessKey); err != nil {
		return nil, err
	}
	if claims.Type != KindAccess || claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyRefreshToken verifies a refresh token and rejects other token kinds
func (s *Service) VerifyRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(raw, claims, s.refreshKey); err != nil {
		return nil, err
	}
	if claims.Type != KindRefresh || claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyMagicLinkToken verifies a magic-link token and rejects other token kinds
func (s *Service) VerifyMagicLinkToken(raw string) (*MagicLinkClaims, error) {
	claims := &MagicLinkClaims{}
	if err := s.parse(raw, claims, s.accessKey); err != nil {
		return nil, err
	}
	if claims.Type != KindMagicLink || !claims.LinkType.Valid() || claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not a magic-link token", ErrTokenInvalid)
	}
	return claims, nil
}
