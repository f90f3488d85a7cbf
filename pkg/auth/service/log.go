package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
)

const serviceName = "AuthService"

const (
	identifierMaxLen = 64
	tokenDisplaySize = 16
)

// logService wraps Service with automatic logging of all method calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the auth Service.
// It logs method entry/exit, duration, errors, and sanitized request/response data.
// Passwords and full tokens are never logged.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) started(method string, fields ...zap.Field) {
	ls.logger.Info(method+" started", append([]zap.Field{
		zap.String("service", serviceName),
		zap.String("method", method),
	}, fields...)...)
}

func (ls *logService) finished(method string, start time.Time, err error, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("service", serviceName),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		ls.logger.Error(method+" failed", append(base, zap.Error(err))...)
		return
	}
	ls.logger.Info(method+" completed", append(base, fields...)...)
}

func authFields(resp *AuthResponse) []zap.Field {
	if resp == nil || resp.User == nil {
		return nil
	}
	fields := []zap.Field{zap.String("user_id", resp.User.ID)}
	if resp.Tokens != nil {
		fields = append(fields, zap.Time("access_expires_at", resp.Tokens.AccessExpiresAt))
	}
	return fields
}

// Register wraps the service method with logging
func (ls *logService) Register(ctx context.Context, req *RegisterRequest) (resp *AuthResponse, err error) {
	start := time.Now()
	ls.started("Register",
		zap.String("handle", truncateString(req.Handle, identifierMaxLen)),
		zap.Bool("has_password", req.Password != ""),
	)
	defer func() {
		ls.finished("Register", start, err, authFields(resp)...)
	}()

	return ls.svc.Register(ctx, req)
}

// Login wraps the service method with logging
func (ls *logService) Login(ctx context.Context, req *LoginRequest) (resp *AuthResponse, err error) {
	start := time.Now()
	ls.started("Login", zap.String("identifier", truncateString(req.Identifier, identifierMaxLen)))
	defer func() {
		ls.finished("Login", start, err, authFields(resp)...)
	}()

	return ls.svc.Login(ctx, req)
}

// RequestMagicLink wraps the service method with logging.
// The outcome is logged without revealing whether the address is registered.
func (ls *logService) RequestMagicLink(ctx context.Context, req *MagicLinkRequest) (resp *MagicLinkResponse, err error) {
	start := time.Now()
	ls.started("RequestMagicLink", zap.String("type", string(req.Type)))
	defer func() {
		ls.finished("RequestMagicLink", start, err)
	}()

	return ls.svc.RequestMagicLink(ctx, req)
}

// VerifyMagicLink wraps the service method with logging
func (ls *logService) VerifyMagicLink(ctx context.Context, req *VerifyMagicLinkRequest) (resp *AuthResponse, err error) {
	start := time.Now()
	ls.started("VerifyMagicLink",
		zap.String("token", redactToken(req.Token)),
		zap.Bool("has_new_password", req.NewPassword != ""),
	)
	defer func() {
		ls.finished("VerifyMagicLink", start, err, authFields(resp)...)
	}()

	return ls.svc.VerifyMagicLink(ctx, req)
}

// Refresh wraps the service method with logging
func (ls *logService) Refresh(ctx context.Context, refreshToken string) (resp *AuthResponse, err error) {
	start := time.Now()
	ls.started("Refresh", zap.String("refresh_token", redactToken(refreshToken)))
	defer func() {
		ls.finished("Refresh", start, err, authFields(resp)...)
	}()

	return ls.svc.Refresh(ctx, refreshToken)
}

// Logout wraps the service method with logging
func (ls *logService) Logout(ctx context.Context, accessToken string) (err error) {
	start := time.Now()
	ls.started("Logout", zap.String("session", truncateString(token.HashToken(accessToken), tokenDisplaySize)))
	defer func() {
		ls.finished("Logout", start, err)
	}()

	return ls.svc.Logout(ctx, accessToken)
}

// Me wraps the service method with logging
func (ls *logService) Me(ctx context.Context, userID string) (resp *MeResponse, err error) {
	start := time.Now()
	ls.started("Me", zap.String("user_id", userID))
	defer func() {
		ls.finished("Me", start, err)
	}()

	return ls.svc.Me(ctx, userID)
}

// Authenticate runs on every protected request, so only failures are logged and only at debug
func (ls *logService) Authenticate(ctx context.Context, accessToken string) (*token.AccessClaims, error) {
	claims, err := ls.svc.Authenticate(ctx, accessToken)
	if err != nil {
		ls.logger.Debug("Authenticate failed",
			zap.String("service", serviceName),
			zap.String("method", "Authenticate"),
			zap.String("token", redactToken(accessToken)),
			zap.Error(err),
		)
	}
	return claims, err
}

// truncateString limits string length for logging to prevent log spam
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// redactToken shows only the shape of a bearer credential
func redactToken(raw string) string {
	if raw == "" {
		return "<empty>"
	}
	if len(raw) > tokenDisplaySize {
		return fmt.Sprintf("%s... (%d bytes)", raw[:8], len(raw))
	}
	return fmt.Sprintf("<%d bytes>", len(raw))
}
