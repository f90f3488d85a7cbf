package service

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

// RegisterRoutes registers the public founder registry endpoints.
// Sealing is only reachable through the ceremony command.
func RegisterRoutes(r chi.Router, service Service, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Get("/founder", apphttp.HandleError(h.get))
	r.Get("/founder/verify", apphttp.HandleError(h.verify))
}

func (h *HTTP) get(w http.ResponseWriter, r *http.Request) error {
	record, err := h.service.Get(r.Context())
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, record)
	return nil
}

func (h *HTTP) verify(w http.ResponseWriter, r *http.Request) error {
	v, err := h.service.Verify(r.Context())
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, v)
	return nil
}
