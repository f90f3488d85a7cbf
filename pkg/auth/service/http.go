package service

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/auth"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/token"
)

// RefreshCookieName is the HttpOnly cookie carrying the refresh token
const RefreshCookieName = "mobius_refresh"

// CookieConfig controls the refresh cookie
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	cookie  CookieConfig
	logger  *zap.Logger
}

// RegisterRoutes registers the /auth endpoints. The service authenticates its own protected routes.
func RegisterRoutes(r chi.Router, service Service, cookie CookieConfig, logger *zap.Logger) {
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = token.DefaultRefreshTTL
	}
	h := &HTTP{
		service: service,
		cookie:  cookie,
		logger:  logger,
	}

	r.Post("/auth/register", apphttp.HandleError(h.register))
	r.Post("/auth/login", apphttp.HandleError(h.login))
	r.Post("/auth/magic-link", apphttp.HandleError(h.requestMagicLink))
	r.Post("/auth/magic-link/verify", apphttp.HandleError(h.verifyMagicLink))
	r.Post("/auth/refresh", apphttp.HandleError(h.refresh))
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(service))
		r.Post("/auth/logout", apphttp.HandleError(h.logout))
		r.Get("/auth/me", apphttp.HandleError(h.me))
	})
}

func (h *HTTP) register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	resp, err := h.service.Register(r.Context(), &req)
	if err != nil {
		return err
	}
	h.writeAuth(w, http.StatusCreated, resp)
	return nil
}

func (h *HTTP) login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	resp, err := h.service.Login(r.Context(), &req)
	if err != nil {
		return err
	}
	h.writeAuth(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) requestMagicLink(w http.ResponseWriter, r *http.Request) error {
	var req MagicLinkRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	resp, err := h.service.RequestMagicLink(r.Context(), &req)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) verifyMagicLink(w http.ResponseWriter, r *http.Request) error {
	var req VerifyMagicLinkRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	resp, err := h.service.VerifyMagicLink(r.Context(), &req)
	if err != nil {
		return err
	}
	h.writeAuth(w, http.StatusOK, resp)
	return nil
}

// refresh prefers the refresh cookie and falls back to the request body
func (h *HTTP) refresh(w http.ResponseWriter, r *http.Request) error {
	var raw string
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		raw = c.Value
	}
	if raw == "" {
		req, err := decodeRefreshRequest(r)
		if err != nil {
			return err
		}
		raw = req.RefreshToken
	}
	if raw == "" {
		return apperrors.UnAuthorizedError(nil, msgInvalidToken)
	}

	resp, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		return err
	}
	h.writeAuth(w, http.StatusOK, resp)
	return nil
}

// decodeRefreshRequest treats an empty body as a request without a token
func decodeRefreshRequest(r *http.Request) (*RefreshRequest, error) {
	var req RefreshRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, apphttp.MaxBodyBytes))
	if err != nil {
		return nil, apperrors.BadRequestError(err, "failed to read request")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.BadRequestError(err, "invalid JSON")
	}
	return &req, nil
}

func (h *HTTP) logout(w http.ResponseWriter, r *http.Request) error {
	raw, ok := auth.AccessTokenFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(auth.ErrMissingBearer, "authentication required")
	}
	if err := h.service.Logout(r.Context(), raw); err != nil {
		return err
	}
	http.SetCookie(w, h.refreshCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *HTTP) me(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.RequireUserID(r.Context())
	if err != nil {
		return err
	}
	resp, err := h.service.Me(r.Context(), userID)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}

// writeAuth moves the refresh token into the HttpOnly cookie. It never appears in the body.
func (h *HTTP) writeAuth(w http.ResponseWriter, status int, resp *AuthResponse) {
	body := *resp
	if resp.Tokens != nil {
		http.SetCookie(w, h.refreshCookie(resp.Tokens.RefreshToken, int(h.cookie.MaxAge/time.Second)))
		tokens := *resp.Tokens
		tokens.RefreshToken = ""
		body.Tokens = &tokens
	}
	apphttp.WriteJSON(w, status, &body)
}

func (h *HTTP) refreshCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
