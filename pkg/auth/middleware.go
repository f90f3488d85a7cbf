// Package auth holds the HTTP authentication plumbing shared by every
// authenticated route: bearer extraction, request context keys and password hashing.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
)

// ErrMissingBearer is returned when a request carries no bearer token
var ErrMissingBearer = errors.New("missing bearer token")

// Authenticator resolves an access token to its claims
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*token.AccessClaims, error)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// Middleware rejects requests without a valid access token and stores the
// verified claims in the request context
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(ErrMissingBearer, "authentication required"))
				return
			}

			claims, err := authn.Authenticate(r.Context(), raw)
			if err != nil {
				apphttp.DefaultErrorHandler(w, err)
				return
			}

			ctx := WithAccessToken(WithClaims(r.Context(), claims), raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUserID returns the authenticated user ID or an Unauthorized error
func RequireUserID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", apperrors.UnAuthorizedError(ErrMissingBearer, "authentication required")
	}
	return id, nil
}
