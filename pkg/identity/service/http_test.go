package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/userstore"
)

// staticAuthenticator accepts the bearer token "valid" as userID
type staticAuthenticator struct {
	userID string
}

func (a staticAuthenticator) Authenticate(_ context.Context, raw string) (*token.AccessClaims, error) {
	if raw != "valid" || a.userID == "" {
		return nil, apperrors.UnAuthorizedError(nil, "invalid or expired token")
	}
	return &token.AccessClaims{UserID: a.userID}, nil
}

func newIdentityTestServer(svc Service, userID string) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, staticAuthenticator{userID: userID}, zap.NewNop())
	return r
}

func authed(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer valid")
	return req
}

func TestIdentityHTTP_EventsAndVerify(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(userstore.NewMemoryStore())
	_, err := log.Append(ctx, "user-1", identity.EventUserCreated, map[string]any{"handle": "kaizen"})
	require.NoError(t, err)
	_, err = log.Append(ctx, "user-1", identity.EventUserLogin, nil)
	require.NoError(t, err)

	handler := newIdentityTestServer(log, "user-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authed(http.MethodGet, "/identity/events"))
	require.Equal(t, http.StatusOK, rec.Code)
	var events eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events.Events, 2)
	assert.Equal(t, identity.EventUserCreated, events.Events[0].Type)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authed(http.MethodGet, "/identity/verify"))
	require.Equal(t, http.StatusOK, rec.Code)
	var v Verification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Valid)
	assert.Equal(t, 2, v.EventCount)
}

func TestIdentityHTTP_EmptyChainRendersEmptyList(t *testing.T) {
	handler := newIdentityTestServer(newTestLog(userstore.NewMemoryStore()), "user-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authed(http.MethodGet, "/identity/events"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
}

func TestIdentityHTTP_RequiresClaims(t *testing.T) {
	handler := newIdentityTestServer(newTestLog(userstore.NewMemoryStore()), "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authed(http.MethodGet, "/identity/verify"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
