// Package service orchestrates the account flows: registration, password and
// magic-link sign-in, token refresh, logout and request authentication.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/internal/metrics"
	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/auth"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	identitysvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/keys"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
	magiclinksvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink/service"
	sessionsvc "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/session/service"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// Store is the narrow data-access interface for account flows.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	CreateAccount(ctx context.Context, usr *user.User, wallet *user.Wallet, first *identity.Event) error
	GetUser(ctx context.Context, opts ...userstore.QueryOption) (*user.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	MarkEmailVerified(ctx context.Context, userID string, trustLevel int) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	GetWalletByUserID(ctx context.Context, userID string) (*user.Wallet, error)
}

// Tokens mints and verifies the signed tokens
type Tokens interface {
	CreateTokenPair(sub token.Subject) (*token.Pair, error)
	VerifyAccessToken(raw string) (*token.AccessClaims, error)
	VerifyRefreshToken(raw string) (*token.RefreshClaims, error)
	VerifyMagicLinkToken(raw string) (*token.MagicLinkClaims, error)
}

// Balances derives wallet balances from the ledger
type Balances interface {
	ComputeBalance(ctx context.Context, walletID string) (*ledger.Balance, error)
}

// Service defines the account flows
//
//go:generate mockery --name Service --output mocks --outpkg mocks --filename mock_service.go --with-expecter
type Service interface {
	auth.Authenticator
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	RequestMagicLink(ctx context.Context, req *MagicLinkRequest) (*MagicLinkResponse, error)
	VerifyMagicLink(ctx context.Context, req *VerifyMagicLinkRequest) (*AuthResponse, error)
	// Refresh exchanges a refresh token for a new pair. Each refresh token works once.
	Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error)
	// Logout revokes the session of accessToken together with its refresh token.
	// Logging out twice is not an error.
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, userID string) (*MeResponse, error)
}

// Dependencies are the collaborators of the orchestrator
type Dependencies struct {
	Store      Store
	Tokens     Tokens
	Sessions   sessionsvc.Service
	Events     identitysvc.Service
	MagicLinks magiclinksvc.Service
	Sender     magiclinksvc.Sender
	Balances   Balances
	Hasher     auth.PasswordHasher
	Cipher     keys.KeyCipher
}

// Option configures the orchestrator
type Option func(*orchestrator)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		o.now = now
	}
}

// WithSessionCheck toggles the session registry lookup in Authenticate
func WithSessionCheck(enabled bool) Option {
	return func(o *orchestrator) {
		o.sessionCheck = enabled
	}
}

// magicLinkDeliveryTimeout bounds the background lookup, issue and send of one link request
const magicLinkDeliveryTimeout = 30 * time.Second

type orchestrator struct {
	Dependencies
	validate     *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
	sessionCheck bool
	deliveries   sync.WaitGroup
}

// NewService creates the auth orchestrator
func NewService(deps Dependencies, logger *zap.Logger, opts ...Option) Service {
	o := &orchestrator{
		Dependencies: deps,
		validate:     validator.New(),
		logger:       logger,
		now:          time.Now,
		sessionCheck: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) validateRequest(req any) error {
	if err := o.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperrors.BadRequestError(err, fmt.Sprintf("invalid %s", strings.ToLower(verrs[0].Field())))
		}
		return apperrors.BadRequestError(err, "invalid request")
	}
	return nil
}

func (o *orchestrator) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	handle := user.NormalizeHandle(req.Handle)
	email := user.NormalizeEmail(req.Email)
	if err := o.validateRequest(&RegisterRequest{Handle: handle, Email: email, Password: req.Password}); err != nil {
		return nil, err
	}
	if err := user.ValidateHandle(handle); err != nil {
		return nil, apperrors.BadRequestError(err, "invalid handle")
	}
	if err := user.ValidateEmail(email); err != nil {
		return nil, apperrors.BadRequestError(err, "invalid email")
	}

	var passwordHash string
	if req.Password != "" {
		hash, err := o.Hasher.Hash(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = hash
	}

	now := o.now()
	usr := user.New(handle, email, passwordHash, now)

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	encrypted, err := o.Cipher.Encrypt(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt wallet key: %w", err)
	}
	wallet := user.NewWallet(usr.ID, kp.PublicKeyHex(), kp.Address(), encrypted, now)

	first, err := identity.NewEvent(usr.ID, identity.EventUserCreated, map[string]any{
		"handle":        usr.Handle,
		"email":         usr.Email,
		"walletAddress": wallet.Address,
		"hasPassword":   usr.HasPassword(),
	}, nil, now)
	if err != nil {
		return nil, fmt.Errorf("build genesis event: %w", err)
	}

	if err := o.Store.CreateAccount(ctx, usr, wallet, first); err != nil {
		if errors.Is(err, userstore.ErrUserExists) {
			metrics.AuthAttempts.WithLabelValues("register", "conflict").Inc()
			return nil, apperrors.ConflictError(err, "handle or email already registered")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	metrics.AccountsCreated.Inc()
	metrics.AuthAttempts.WithLabelValues("register", "success").Inc()

	return o.signIn(ctx, usr, wallet)
}

// findByIdentifier resolves an email when identifier contains "@", a handle otherwise
func (o *orchestrator) findByIdentifier(ctx context.Context, identifier string) (*user.User, error) {
	opt := userstore.WithHandle(identifier)
	if strings.Contains(identifier, "@") && !strings.HasPrefix(strings.TrimSpace(identifier), "@") {
		opt = userstore.WithEmail(identifier)
	}
	return o.Store.GetUser(ctx, opt)
}

func (o *orchestrator) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	usr, err := o.findByIdentifier(ctx, req.Identifier)
	if errors.Is(err, userstore.ErrUserNotFound) {
		o.Hasher.VerifyDummy(req.Password)
		return nil, o.loginFailed(ctx, nil, "unknown_user", err)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !usr.HasPassword() {
		o.Hasher.VerifyDummy(req.Password)
		return nil, o.loginFailed(ctx, usr, "no_password", nil)
	}
	ok, err := o.Hasher.Verify(req.Password, usr.PasswordHash)
	if err != nil {
		o.logger.Error("stored password hash is unreadable", zap.String("user_id", usr.ID), zap.Error(err))
		return nil, o.loginFailed(ctx, usr, "invalid_hash", err)
	}
	if !ok {
		return nil, o.loginFailed(ctx, usr, "bad_password", nil)
	}

	if err := o.recordLogin(ctx, usr, "password"); err != nil {
		return nil, err
	}
	metrics.AuthAttempts.WithLabelValues("password", "success").Inc()

	wallet, err := o.walletOf(ctx, usr.ID)
	if err != nil {
		return nil, err
	}
	return o.signIn(ctx, usr, wallet)
}

// loginFailed records the failure and returns the one error every failed login gets.
// Failures of unknown users are not persisted.
func (o *orchestrator) loginFailed(ctx context.Context, usr *user.User, reason string, cause error) error {
	metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
	if usr != nil {
		if _, err := o.Events.Append(ctx, usr.ID, identity.EventUserLoginFailed, map[string]any{"reason": reason}); err != nil {
			o.logger.Warn("failed to record login failure", zap.String("user_id", usr.ID), zap.Error(err))
		}
	}
	err := fmt.Errorf("%w: %s", ErrInvalidCredentials, reason)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	return apperrors.UnAuthorizedError(err, msgInvalidCredentials)
}

func (o *orchestrator) recordLogin(ctx context.Context, usr *user.User, method string) error {
	now := o.now()
	if err := o.Store.UpdateLastLogin(ctx, usr.ID, now); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	usr.LastLoginAt = &now
	if _, err := o.Events.Append(ctx, usr.ID, identity.EventUserLogin, map[string]any{"method": method}); err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// RequestMagicLink answers before the address is looked up. Lookup, issue and
// delivery run in the background so the response never depends on whether the
// address is registered.
func (o *orchestrator) RequestMagicLink(ctx context.Context, req *MagicLinkRequest) (*MagicLinkResponse, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}
	linkType := req.Type
	if linkType == "" {
		linkType = token.LinkLogin
	}

	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), magicLinkDeliveryTimeout)
	o.deliveries.Add(1)
	go func() {
		defer o.deliveries.Done()
		defer cancel()
		if err := o.deliverMagicLink(deliveryCtx, req.Email, linkType); err != nil {
			metrics.MagicLinks.WithLabelValues("request", string(linkType), "failure").Inc()
			o.logger.Error("magic link request failed", zap.String("type", string(linkType)), zap.Error(err))
		}
	}()
	return &MagicLinkResponse{Sent: true, Message: msgLinkSent}, nil
}

func (o *orchestrator) deliverMagicLink(ctx context.Context, email string, linkType token.LinkType) error {
	usr, err := o.Store.GetUser(ctx, userstore.WithEmail(email))
	if errors.Is(err, userstore.ErrUserNotFound) {
		metrics.MagicLinks.WithLabelValues("request", string(linkType), "unknown_email").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	issued, err := o.MagicLinks.Issue(ctx, usr.ID, linkType)
	if err != nil {
		return err
	}
	if _, err := o.Events.Append(ctx, usr.ID, identity.EventMagicLinkIssued, map[string]any{
		"type":      string(linkType),
		"expiresAt": issued.ExpiresAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("record magic link issue: %w", err)
	}
	if err := o.Sender.Send(ctx, usr.Email, issued); err != nil {
		return fmt.Errorf("deliver magic link to user %s: %w", usr.ID, err)
	}
	return nil
}

func (o *orchestrator) VerifyMagicLink(ctx context.Context, req *VerifyMagicLinkRequest) (*AuthResponse, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	// a reset link must not be burned by a request that cannot complete the reset
	claims, err := o.Tokens.VerifyMagicLinkToken(req.Token)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("magic_link", "failure").Inc()
		return nil, apperrors.UnAuthorizedError(err, msgInvalidToken)
	}
	if claims.LinkType == token.LinkResetPassword && req.NewPassword == "" {
		return nil, apperrors.BadRequestError(nil, "newPassword is required")
	}

	consumed, err := o.MagicLinks.Consume(ctx, req.Token)
	if err != nil {
		if errors.Is(err, magiclink.ErrInvalidOrExpired) {
			metrics.AuthAttempts.WithLabelValues("magic_link", "failure").Inc()
			return nil, apperrors.UnAuthorizedError(err, msgInvalidToken)
		}
		return nil, err
	}

	usr, err := o.Store.GetUser(ctx, userstore.WithID(consumed.UserID))
	if err != nil {
		if errors.Is(err, userstore.ErrUserNotFound) {
			return nil, apperrors.UnAuthorizedError(err, msgInvalidToken)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if _, err := o.Events.Append(ctx, usr.ID, identity.EventMagicLinkConsumed, map[string]any{"type": string(consumed.Type)}); err != nil {
		return nil, fmt.Errorf("record magic link consumption: %w", err)
	}

	switch consumed.Type {
	case token.LinkVerifyEmail:
		if err := o.verifyEmail(ctx, usr); err != nil {
			return nil, err
		}
	case token.LinkResetPassword:
		if err := o.resetPassword(ctx, usr, req.NewPassword); err != nil {
			return nil, err
		}
	}
	if err := o.recordLogin(ctx, usr, "magic_link"); err != nil {
		return nil, err
	}
	metrics.AuthAttempts.WithLabelValues("magic_link", "success").Inc()

	wallet, err := o.walletOf(ctx, usr.ID)
	if err != nil {
		return nil, err
	}
	return o.signIn(ctx, usr, wallet)
}

func (o *orchestrator) verifyEmail(ctx context.Context, usr *user.User) error {
	if err := o.Store.MarkEmailVerified(ctx, usr.ID, user.TrustLevelVerified); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	usr.EmailVerified = true
	usr.TrustLevel = max(usr.TrustLevel, user.TrustLevelVerified)
	if _, err := o.Events.Append(ctx, usr.ID, identity.EventEmailVerified, map[string]any{"email": usr.Email}); err != nil {
		return fmt.Errorf("record email verification: %w", err)
	}
	return nil
}

// resetPassword replaces the password and signs out every existing session
func (o *orchestrator) resetPassword(ctx context.Context, usr *user.User, newPassword string) error {
	hash, err := o.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := o.Store.UpdatePasswordHash(ctx, usr.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	usr.PasswordHash = hash

	revoked, err := o.Sessions.RevokeAllForUser(ctx, usr.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	if _, err := o.Events.Append(ctx, usr.ID, identity.EventPasswordReset, map[string]any{"revokedSessions": revoked}); err != nil {
		return fmt.Errorf("record password reset: %w", err)
	}
	return nil
}

func (o *orchestrator) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := o.Tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("refresh", "failure").Inc()
		return nil, apperrors.UnAuthorizedError(err, msgInvalidToken)
	}
	// single use: the presented pair is retired before a new one is issued
	live, err := o.Sessions.Consume(ctx, token.HashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("consume refresh session: %w", err)
	}
	if !live {
		metrics.AuthAttempts.WithLabelValues("refresh", "failure").Inc()
		return nil, apperrors.UnAuthorizedError(ErrSessionRevoked, msgInvalidToken)
	}

	usr, err := o.Store.GetUser(ctx, userstore.WithID(claims.UserID))
	if err != nil {
		if errors.Is(err, userstore.ErrUserNotFound) {
			metrics.AuthAttempts.WithLabelValues("refresh", "failure").Inc()
			return nil, apperrors.UnAuthorizedError(err, msgInvalidToken)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if _, err := o.Events.Append(ctx, usr.ID, identity.EventTokenRefreshed, map[string]any{"refreshJti": claims.ID}); err != nil {
		return nil, fmt.Errorf("record refresh: %w", err)
	}
	metrics.AuthAttempts.WithLabelValues("refresh", "success").Inc()

	wallet, err := o.walletOf(ctx, usr.ID)
	if err != nil {
		return nil, err
	}
	return o.signIn(ctx, usr, wallet)
}

func (o *orchestrator) Logout(ctx context.Context, accessToken string) error {
	if err := o.Sessions.Revoke(ctx, token.HashToken(accessToken)); err != nil {
		return err
	}
	claims, err := o.Tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil
	}
	if _, err := o.Events.Append(ctx, claims.UserID, identity.EventSessionRevoked, map[string]any{"jti": claims.ID}); err != nil {
		o.logger.Warn("failed to record logout", zap.String("user_id", claims.UserID), zap.Error(err))
	}
	return nil
}

func (o *orchestrator) Authenticate(ctx context.Context, accessToken string) (*token.AccessClaims, error) {
	claims, err := o.Tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, apperrors.UnAuthorizedError(err, msgInvalidToken)
	}
	if !o.sessionCheck {
		return claims, nil
	}

	valid, err := o.Sessions.IsValid(ctx, token.HashToken(accessToken))
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !valid {
		return nil, apperrors.UnAuthorizedError(ErrSessionRevoked, msgInvalidToken)
	}
	return claims, nil
}

func (o *orchestrator) Me(ctx context.Context, userID string) (*MeResponse, error) {
	usr, err := o.Store.GetUser(ctx, userstore.WithID(userID))
	if err != nil {
		if errors.Is(err, userstore.ErrUserNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	wallet, err := o.walletOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	bal, err := o.Balances.ComputeBalance(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	return &MeResponse{
		User:    usr.ToProfile(),
		Wallet:  wallet.ToView(&bal.Balance),
		Balance: bal,
	}, nil
}

func (o *orchestrator) walletOf(ctx context.Context, userID string) (*user.Wallet, error) {
	wallet, err := o.Store.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return wallet, nil
}

// signIn issues a token pair for usr and registers its session
func (o *orchestrator) signIn(ctx context.Context, usr *user.User, wallet *user.Wallet) (*AuthResponse, error) {
	pair, err := o.Tokens.CreateTokenPair(token.Subject{
		UserID:          usr.ID,
		Handle:          usr.Handle,
		Email:           usr.Email,
		IsFounder:       usr.IsFounder,
		TrustLevel:      usr.TrustLevel,
		WalletPublicKey: wallet.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create token pair: %w", err)
	}
	if err := o.Sessions.CreatePair(ctx, usr.ID, pair); err != nil {
		return nil, err
	}
	return &AuthResponse{
		User:   usr.ToProfile(),
		Wallet: wallet.ToView(o.displayBalance(ctx, wallet)),
		Tokens: pair,
	}, nil
}

// displayBalance is the ledger balance, or nil when the ledger cannot be read.
// Signing in does not fail on a ledger outage.
func (o *orchestrator) displayBalance(ctx context.Context, wallet *user.Wallet) *decimal.Decimal {
	bal, err := o.Balances.ComputeBalance(ctx, wallet.ID)
	if err != nil {
		o.logger.Warn("ledger balance unavailable, omitting wallet balance",
			zap.String("wallet_id", wallet.ID),
			zap.Error(err))
		return nil
	}
	return &bal.Balance
}
