package service

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/errors"
	apphttp "github.com/kaizencycle/mobius-browser-shell-sub002/pkg/app/http"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/auth"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/ledger"
	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/user"
)

// Page sizes of the recent-events feed
const (
	DefaultEventsLimit = 20
	MaxEventsLimit     = 100
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

type walletResponse struct {
	Wallet               *user.WalletView `json:"wallet"`
	Summary              *ledger.Balance  `json:"summary"`
	GII                  float64          `json:"gii"`
	CircuitBreakerActive bool             `json:"circuitBreakerActive"`
}

type ledgerResponse struct {
	*EntryPage
	Summary *ledger.Balance `json:"summary"`
}

type earnRequest struct {
	Source string         `json:"source"`
	Meta   map[string]any `json:"meta"`
}

// RegisterRoutes registers the MIC endpoints. Everything except /mic/health requires a bearer token.
func RegisterRoutes(r chi.Router, service Service, authn auth.Authenticator, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Get("/mic/health", apphttp.HandleError(h.health))
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authn))
		r.Get("/mic/wallet", apphttp.HandleError(h.wallet))
		r.Get("/mic/events", apphttp.HandleError(h.events))
		r.Get("/mic/ledger", apphttp.HandleError(h.ledger))
		r.Post("/mic/earn", apphttp.HandleError(h.earn))
	})
}

func (h *HTTP) callerWallet(r *http.Request) (*user.Wallet, error) {
	userID, err := auth.RequireUserID(r.Context())
	if err != nil {
		return nil, err
	}
	return h.service.WalletForUser(r.Context(), userID)
}

func (h *HTTP) wallet(w http.ResponseWriter, r *http.Request) error {
	wallet, err := h.callerWallet(r)
	if err != nil {
		return err
	}
	bal, err := h.service.ComputeBalance(r.Context(), wallet.ID)
	if err != nil {
		return err
	}
	health := h.service.Health(r.Context())
	apphttp.WriteJSON(w, http.StatusOK, &walletResponse{
		Wallet:               wallet.ToView(&bal.Balance),
		Summary:              bal,
		GII:                  health.GII,
		CircuitBreakerActive: health.MintingHalted,
	})
	return nil
}

func (h *HTTP) events(w http.ResponseWriter, r *http.Request) error {
	page, err := parsePage(r)
	if err != nil {
		return err
	}
	wallet, err := h.callerWallet(r)
	if err != nil {
		return err
	}
	res, err := h.service.ListEntries(r.Context(), wallet.ID, page.Clamp(DefaultEventsLimit, MaxEventsLimit))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, res.Entries)
	return nil
}

func (h *HTTP) ledger(w http.ResponseWriter, r *http.Request) error {
	page, err := parsePage(r)
	if err != nil {
		return err
	}
	wallet, err := h.callerWallet(r)
	if err != nil {
		return err
	}
	res, err := h.service.ListEntries(r.Context(), wallet.ID, page)
	if err != nil {
		return err
	}
	bal, err := h.service.ComputeBalance(r.Context(), wallet.ID)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, &ledgerResponse{EntryPage: res, Summary: bal})
	return nil
}

func (h *HTTP) earn(w http.ResponseWriter, r *http.Request) error {
	var req earnRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	wallet, err := h.callerWallet(r)
	if err != nil {
		return err
	}
	res, err := h.service.Earn(r.Context(), wallet.ID, req.Source, req.Meta)
	if err != nil {
		return err
	}
	h.logger.Info("MIC earned",
		zap.String("wallet_id", wallet.ID),
		zap.String("source", req.Source),
		zap.String("amount", res.Entry.Amount.StringFixed(ledger.AmountScale)))
	apphttp.WriteJSON(w, http.StatusCreated, res)
	return nil
}

func (h *HTTP) health(w http.ResponseWriter, r *http.Request) error {
	apphttp.WriteJSON(w, http.StatusOK, h.service.Health(r.Context()))
	return nil
}

func parsePage(r *http.Request) (ledger.Page, error) {
	var page ledger.Page
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, apperrors.BadRequestError(err, name+" must be an integer")
		}
		*dst = n
	}
	return page, nil
}

