package auth

import (
	"context"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
)

// Context keys for authentication data
type contextKey string

const (
	// ContextKeyClaims is the context key for the verified access claims
	ContextKeyClaims contextKey = "claims"
	// ContextKeyAccessToken is the context key for the raw bearer token
	ContextKeyAccessToken contextKey = "access_token"
)

// WithClaims adds verified access claims to the context
func WithClaims(ctx context.Context, claims *token.AccessClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// ClaimsFromContext retrieves the verified access claims from the context
func ClaimsFromContext(ctx context.Context) (*token.AccessClaims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*token.AccessClaims)
	return claims, ok && claims != nil
}

// UserIDFromContext retrieves the authenticated user ID from the context
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// WithAccessToken adds the raw bearer token to the context
func WithAccessToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, ContextKeyAccessToken, raw)
}

// AccessTokenFromContext retrieves the raw bearer token from the context
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(ContextKeyAccessToken).(string)
	return raw, ok && raw != ""
}
