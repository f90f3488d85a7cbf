package service

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/auth"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/identity"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

type eventsResponse struct {
	Events []*identity.Event `json:"events"`
}

// RegisterRoutes registers the identity log endpoints behind bearer authentication
func RegisterRoutes(r chi.Router, service Service, authn auth.Authenticator, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authn))
		r.Get("/identity/events", apphttp.HandleError(h.events))
		r.Get("/identity/verify", apphttp.HandleError(h.verify))
	})
}

func (h *HTTP) events(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.RequireUserID(r.Context())
	if err != nil {
		return err
	}
	events, err := h.service.List(r.Context(), userID)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*identity.Event{}
	}
	apphttp.WriteJSON(w, http.StatusOK, &eventsResponse{Events: events})
	return nil
}

func (h *HTTP) verify(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.RequireUserID(r.Context())
	if err != nil {
		return err
	}
	v, err := h.service.Verify(r.Context(), userID)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, v)
	return nil
}
