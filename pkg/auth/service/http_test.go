package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
)

func newAuthTestServer(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	RegisterRoutes(r, f.svc, CookieConfig{Secure: true}, zap.NewNop())
	return r, f
}

func send(h http.Handler, method, target, body, bearer string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func refreshCookieOf(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", RefreshCookieName)
	return nil
}

func TestAuthHTTP_RegisterLoginMe(t *testing.T) {
	h, _ := newAuthTestServer(t)

	rec := send(h, http.MethodPost, "/auth/register", `{"handle":"kaizen","email":"kaizen@mobius.test","password":"correct horse battery"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.Equal(t, "kaizen", registered.User.Handle)

	cookie := refreshCookieOf(t, rec)
	assert.NotEmpty(t, cookie.Value)
	assert.Empty(t, registered.Tokens.RefreshToken)
	assert.NotContains(t, rec.Body.String(), "refreshToken")
	assert.NotContains(t, rec.Body.String(), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)

	rec = send(h, http.MethodPost, "/auth/login", `{"identifier":"kaizen","password":"correct horse battery"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var loggedIn AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loggedIn))

	rec = send(h, http.MethodGet, "/auth/me", "", loggedIn.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, registered.User.ID, me.User.ID)
	assert.NotContains(t, rec.Body.String(), "encrypted")
}

func TestAuthHTTP_LoginFailure(t *testing.T) {
	h, _ := newAuthTestServer(t)
	send(h, http.MethodPost, "/auth/register", `{"handle":"kaizen","email":"kaizen@mobius.test","password":"correct horse battery"}`, "")

	for _, body := range []string{
		`{"identifier":"kaizen","password":"wrong horse battery"}`,
		`{"identifier":"ghost","password":"wrong horse battery"}`,
	} {
		rec := send(h, http.MethodPost, "/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp apphttp.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, msgInvalidCredentials, resp.ErrMsg)
	}
}

func TestAuthHTTP_RefreshFromCookie(t *testing.T) {
	h, _ := newAuthTestServer(t)
	rec := send(h, http.MethodPost, "/auth/register", `{"handle":"kaizen","email":"kaizen@mobius.test"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cookie := refreshCookieOf(t, rec)

	rec = send(h, http.MethodPost, "/auth/refresh", "", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "refreshToken")
	rotated := refreshCookieOf(t, rec)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	rec = send(h, http.MethodPost, "/auth/refresh", "", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a refresh token works once")

	rec = send(h, http.MethodPost, "/auth/refresh", `{"refreshToken":"garbage"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(h, http.MethodPost, "/auth/refresh", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(h, http.MethodPost, "/auth/refresh", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	rec = send(h, http.MethodPost, "/auth/refresh", "{", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHTTP_MagicLinkFlow(t *testing.T) {
	h, f := newAuthTestServer(t)
	send(h, http.MethodPost, "/auth/register", `{"handle":"kaizen","email":"kaizen@mobius.test"}`, "")

	known := send(h, http.MethodPost, "/auth/magic-link", `{"email":"kaizen@mobius.test"}`, "")
	unknown := send(h, http.MethodPost, "/auth/magic-link", `{"email":"ghost@mobius.test"}`, "")
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
	f.settle()

	body, err := json.Marshal(map[string]string{"token": f.sender.last(t).link.Token})
	require.NoError(t, err)
	rec := send(h, http.MethodPost, "/auth/magic-link/verify", string(body), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = send(h, http.MethodPost, "/auth/magic-link/verify", string(body), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHTTP_Logout(t *testing.T) {
	h, _ := newAuthTestServer(t)
	rec := send(h, http.MethodPost, "/auth/register", `{"handle":"kaizen","email":"kaizen@mobius.test"}`, "")
	var registered AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	access := registered.Tokens.AccessToken
	cookie := refreshCookieOf(t, rec)

	rec = send(h, http.MethodPost, "/auth/logout", "", access)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, -1, refreshCookieOf(t, rec).MaxAge)

	rec = send(h, http.MethodGet, "/auth/me", "", access)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(h, http.MethodPost, "/auth/refresh", "", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(h, http.MethodPost, "/auth/logout", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
