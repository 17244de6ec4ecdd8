package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/admission"
	"genforge/internal/billing"
	"genforge/internal/domain"
	"genforge/internal/middleware"
	"genforge/internal/notify"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type App struct {
	Store   domain.Store
	Gateway *admission.Gateway
	Ledger  *billing.Ledger
	// Events lets long-polling submissions wake on push events. Without it
	// they poll the store.
	Events notify.Subscriber
	Checks map[string]HealthCheck
	Logger zerolog.Logger

	MaxWait      time.Duration
	PollInterval time.Duration
	MaxCost      int64
}

func NewApp(store domain.Store, gateway *admission.Gateway, ledger *billing.Ledger, logger zerolog.Logger) *App {
	return &App{
		Store:        store,
		Gateway:      gateway,
		Ledger:       ledger,
		Checks:       map[string]HealthCheck{},
		Logger:       logger,
		MaxWait:      60 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: msg}})
}

// domainError writes the status matching a domain sentinel.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrInsufficientFunds):
		a.error(w, http.StatusPaymentRequired, "insufficient_funds", "balance does not cover the job cost")
	case errors.Is(err, domain.ErrJobConflict):
		a.error(w, http.StatusConflict, "job_conflict", "job id already used")
	case errors.Is(err, domain.ErrStoreUnavailable):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("store unavailable")
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "try again later")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
