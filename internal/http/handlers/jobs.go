package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"genforge/internal/admission"
	"genforge/internal/domain"
	"genforge/internal/middleware"
	"genforge/internal/notify"
)

type createJobRequest struct {
	JobID       string          `json:"job_id"`
	Params      json.RawMessage `json:"params"`
	Cost        int64           `json:"cost"`
	WaitSeconds int             `json:"wait_seconds"`
}

type createJobResponse struct {
	JobID             string   `json:"job_id"`
	Status            string   `json:"status"`
	BalanceAfterDebit int64    `json:"balance_after_debit"`
	Duplicate         bool     `json:"duplicate"`
	Job               *jobView `json:"job,omitempty"`
}

type jobView struct {
	ID            string    `json:"job_id"`
	OwnerID       string    `json:"owner_id"`
	Status        string    `json:"status"`
	Cost          int64     `json:"cost"`
	Progress      string    `json:"progress,omitempty"`
	ResultRef     string    `json:"result_ref,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toJobView(j *domain.Job) *jobView {
	if j == nil {
		return nil
	}
	return &jobView{
		ID:            j.ID,
		OwnerID:       j.OwnerID,
		Status:        string(j.Status),
		Cost:          j.Cost,
		Progress:      j.Progress,
		ResultRef:     j.ResultRef,
		FailureReason: j.FailureReason,
		Attempts:      j.Attempts,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// CreateJob admits a paid job. With wait_seconds it holds the request until
// the job is terminal or the wait runs out: 200 for a terminal job, 202 when
// still pending, 201 when the caller did not wait.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.domainError(w, r, domain.ErrUnauthorized)
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if a.MaxCost > 0 && req.Cost > a.MaxCost {
		a.error(w, http.StatusBadRequest, "bad_request", "cost exceeds the allowed maximum")
		return
	}

	receipt, err := a.Gateway.SubmitJob(r.Context(), admission.Request{
		OwnerID: userID,
		JobID:   req.JobID,
		Payload: req.Params,
		Cost:    req.Cost,
		Country: middleware.CountryFromContext(r.Context()),
	})
	if err != nil {
		a.domainError(w, r, err)
		return
	}

	job := receipt.Job
	code := http.StatusCreated
	if wait := a.waitFor(req.WaitSeconds); wait > 0 && job.Pending() {
		job = a.await(r.Context(), receipt.JobID, wait, job)
		code = http.StatusAccepted
	}
	if job.Status.Terminal() {
		code = http.StatusOK
	}
	a.json(w, code, createJobResponse{
		JobID:             receipt.JobID,
		Status:            string(job.Status),
		BalanceAfterDebit: receipt.BalanceAfter,
		Duplicate:         receipt.Duplicate,
		Job:               toJobView(job),
	})
}

func (a *App) waitFor(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	wait := time.Duration(seconds) * time.Second
	if a.MaxWait > 0 && wait > a.MaxWait {
		wait = a.MaxWait
	}
	return wait
}

// await re-reads the job whenever an event arrives or the poll interval
// passes. The store, not the event, decides when the job is done.
func (a *App) await(ctx context.Context, jobID string, wait time.Duration, last *domain.Job) *domain.Job {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var events <-chan notify.Event
	if a.Events != nil {
		ch, err := a.Events.Subscribe(ctx, jobID)
		if err != nil {
			a.Logger.Debug().Err(err).Str("job_id", jobID).Msg("subscribe failed, polling")
		} else {
			events = ch
		}
	}
	interval := a.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := a.Store.Jobs().Get(ctx, jobID)
		if err == nil {
			last = job
			if !job.Pending() {
				return job
			}
		}
		select {
		case <-ctx.Done():
			return last
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-ticker.C:
		}
	}
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.domainError(w, r, domain.ErrUnauthorized)
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Store.Jobs().Get(r.Context(), jobID)
	if err == nil && job.OwnerID != userID {
		err = domain.ErrNotFound
	}
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(job))
}

// RecentJob returns the newest succeeded job created at or after ?since.
func (a *App) RecentJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.domainError(w, r, domain.ErrUnauthorized)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "since must be RFC3339")
			return
		}
		since = t
	}
	job, err := a.Store.Jobs().LatestSucceeded(r.Context(), userID, since)
	if errors.Is(err, domain.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(job))
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.domainError(w, r, domain.ErrUnauthorized)
		return
	}
	limit := queryLimit(r, 20, 100)
	jobs, err := a.Store.Jobs().ListByOwner(r.Context(), userID, limit)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	items := make([]*jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func queryLimit(r *http.Request, fallback, ceiling int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
