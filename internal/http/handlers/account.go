package handlers

import (
	"errors"
	"net/http"
	"time"

	"genforge/internal/domain"
)

type accountView struct {
	OwnerID  string `json:"owner_id"`
	Diamonds int64  `json:"diamonds"`
	XP       int64  `json:"xp"`
}

type entryView struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Kind         string    `json:"kind"`
	Description  string    `json:"description"`
	JobID        string    `json:"job_id,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account returns the caller's balance. Owners without an account yet see
// a zero balance.
func (a *App) Account(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.domainError(w, r, domain.ErrUnauthorized)
		return
	}
	acct, err := a.Ledger.Balance(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		a.json(w, http.StatusOK, accountView{OwnerID: userID})
		return
	}
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, accountView{OwnerID: acct.OwnerID, Diamonds: acct.Diamonds, XP: acct.XP})
}

func (a *App) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.domainError(w, r, domain.ErrUnauthorized)
		return
	}
	entries, err := a.Ledger.History(r.Context(), userID, queryLimit(r, 50, 200))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	items := make([]entryView, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryView{
			ID:           e.ID,
			Amount:       e.Amount,
			Kind:         string(e.Kind),
			Description:  e.Description,
			JobID:        e.JobID,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
