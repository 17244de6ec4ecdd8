package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"genforge/internal/adapter/memstore"
	"genforge/internal/admission"
	"genforge/internal/billing"
	"genforge/internal/domain"
	"genforge/internal/middleware"
	"genforge/internal/notify"
	"genforge/internal/queue"
)

type testEnv struct {
	app    *App
	store  *memstore.Store
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	store.Seed("alice", 20)
	store.Seed("bob", 20)
	ledger := billing.NewLedger(store, zerolog.Nop())
	trigger := queue.TriggerFunc(func(context.Context, string) error { return nil })
	gw := admission.NewGateway(store, ledger, trigger, admission.ValidateParams, zerolog.Nop())
	app := NewApp(store, gw, ledger, zerolog.Nop())
	app.PollInterval = 5 * time.Millisecond

	r := chi.NewRouter()
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)
	r.Post("/v1/jobs", app.CreateJob)
	r.Get("/v1/jobs", app.ListJobs)
	r.Get("/v1/jobs/recent", app.RecentJob)
	r.Get("/v1/jobs/{job_id}", app.GetJob)
	r.Get("/v1/account", app.Account)
	r.Get("/v1/account/transactions", app.Transactions)
	return &testEnv{app: app, store: store, router: r}
}

func (e *testEnv) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req = req.WithContext(middleware.ContextWithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]errorBody](t, rec)
	return body["error"].Code
}

func submitBody(jobID string, cost int64, wait int) string {
	return fmt.Sprintf(`{"job_id":%q,"params":{"prompt":"a fox"},"cost":%d,"wait_seconds":%d}`, jobID, cost, wait)
}

func TestCreateJobStatusMapping(t *testing.T) {
	taken := domain.NewJobID()
	tests := []struct {
		name  string
		user  string
		body  string
		setup func(e *testEnv)
		code  int
		err   string
	}{
		{name: "admitted", user: "alice", body: submitBody("", 5, 0), code: http.StatusCreated},
		{name: "no user", body: submitBody("", 5, 0), code: http.StatusUnauthorized, err: "unauthorized"},
		{name: "malformed json", user: "alice", body: `{"params":`, code: http.StatusBadRequest, err: "bad_request"},
		{name: "invalid params", user: "alice", body: `{"params":{"prompt":""},"cost":5}`, code: http.StatusBadRequest, err: "bad_request"},
		{name: "cost ceiling", user: "alice", body: submitBody("", 50, 0), setup: func(e *testEnv) { e.app.MaxCost = 10 }, code: http.StatusBadRequest, err: "bad_request"},
		{name: "insufficient funds", user: "alice", body: submitBody("", 21, 0), code: http.StatusPaymentRequired, err: "insufficient_funds"},
		{name: "unknown account", user: "carol", body: submitBody("", 1, 0), code: http.StatusPaymentRequired, err: "insufficient_funds"},
		{
			name: "foreign job id",
			user: "alice",
			body: submitBody(taken, 5, 0),
			setup: func(e *testEnv) {
				if rec := e.do(http.MethodPost, "/v1/jobs", "bob", submitBody(taken, 5, 0)); rec.Code != http.StatusCreated {
					t.Fatalf("seed submit status = %d", rec.Code)
				}
			},
			code: http.StatusConflict,
			err:  "job_conflict",
		},
		{
			name: "store down",
			user: "alice",
			body: submitBody("", 5, 0),
			setup: func(e *testEnv) {
				e.store.InjectFault("jobs.get", fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable))
			},
			code: http.StatusServiceUnavailable,
			err:  "store_unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(e)
			}
			rec := e.do(http.MethodPost, "/v1/jobs", tt.user, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.err != "" {
				if got := errorCode(t, rec); got != tt.err {
					t.Fatalf("error code = %q, want %q", got, tt.err)
				}
				return
			}
			resp := decode[createJobResponse](t, rec)
			if resp.Status != "PENDING" || resp.BalanceAfterDebit != 15 || resp.Duplicate || resp.Job == nil {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}

func TestCreateJobDuplicateDoesNotCharge(t *testing.T) {
	e := newTestEnv(t)
	id := domain.NewJobID()
	first := decode[createJobResponse](t, e.do(http.MethodPost, "/v1/jobs", "alice", submitBody(id, 5, 0)))
	rec := e.do(http.MethodPost, "/v1/jobs", "alice", submitBody(id, 5, 0))
	if rec.Code != http.StatusCreated {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	second := decode[createJobResponse](t, rec)
	if !second.Duplicate || second.JobID != first.JobID || second.BalanceAfterDebit != 15 {
		t.Fatalf("duplicate response = %+v", second)
	}
}

func TestCreateJobWaitsForTerminalState(t *testing.T) {
	e := newTestEnv(t)
	hub := notify.NewHub()
	e.app.Events = hub
	e.app.PollInterval = time.Hour
	id := domain.NewJobID()

	go func() {
		ctx := context.Background()
		for hub.Subscribers(id) == 0 {
			time.Sleep(time.Millisecond)
		}
		if _, err := e.store.Jobs().MarkSucceeded(ctx, id, "https://cdn.test/fox.png"); err != nil {
			t.Errorf("MarkSucceeded: %v", err)
		}
		_ = hub.Publish(ctx, notify.Event{JobID: id, Type: notify.EventSucceeded, ResultRef: "https://cdn.test/fox.png"})
	}()

	rec := e.do(http.MethodPost, "/v1/jobs", "alice", submitBody(id, 5, 10))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	resp := decode[createJobResponse](t, rec)
	if resp.Status != "SUCCEEDED" || resp.Job.ResultRef != "https://cdn.test/fox.png" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCreateJobWaitExpiresPending(t *testing.T) {
	e := newTestEnv(t)
	e.app.MaxWait = 30 * time.Millisecond

	rec := e.do(http.MethodPost, "/v1/jobs", "alice", submitBody("", 5, 30))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if resp := decode[createJobResponse](t, rec); resp.Status != "PENDING" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestGetJobScopedToOwner(t *testing.T) {
	e := newTestEnv(t)
	id := domain.NewJobID()
	e.do(http.MethodPost, "/v1/jobs", "alice", submitBody(id, 5, 0))
	if _, err := e.store.Jobs().MarkFailed(context.Background(), id, "stage 1 (render): boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	rec := e.do(http.MethodGet, "/v1/jobs/"+id, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d", rec.Code)
	}
	view := decode[jobView](t, rec)
	if view.Status != "FAILED" || view.FailureReason != "stage 1 (render): boom" {
		t.Fatalf("view = %+v", view)
	}
	if rec := e.do(http.MethodGet, "/v1/jobs/"+id, "bob", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("other owner status = %d, want 404", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/v1/jobs/"+domain.NewJobID(), "alice", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}
}

func TestRecentJob(t *testing.T) {
	e := newTestEnv(t)
	since := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	if rec := e.do(http.MethodGet, "/v1/jobs/recent?since="+since, "alice", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("empty status = %d, want 204", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/v1/jobs/recent?since=yesterday", "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d, want 400", rec.Code)
	}

	id := domain.NewJobID()
	e.do(http.MethodPost, "/v1/jobs", "alice", submitBody(id, 5, 0))
	if _, err := e.store.Jobs().MarkSucceeded(context.Background(), id, "https://cdn.test/r.png"); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	rec := e.do(http.MethodGet, "/v1/jobs/recent?since="+since, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if view := decode[jobView](t, rec); view.ID != id {
		t.Fatalf("view = %+v", view)
	}
}

func TestListJobsAndAccount(t *testing.T) {
	e := newTestEnv(t)
	e.do(http.MethodPost, "/v1/jobs", "alice", submitBody("", 5, 0))
	e.do(http.MethodPost, "/v1/jobs", "alice", submitBody("", 3, 0))

	jobs := decode[struct{ Items []jobView }](t, e.do(http.MethodGet, "/v1/jobs?limit=1", "alice", ""))
	if len(jobs.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(jobs.Items))
	}

	acct := decode[accountView](t, e.do(http.MethodGet, "/v1/account", "alice", ""))
	if acct.Diamonds != 12 || acct.OwnerID != "alice" {
		t.Fatalf("account = %+v", acct)
	}
	if fresh := decode[accountView](t, e.do(http.MethodGet, "/v1/account", "carol", "")); fresh.Diamonds != 0 || fresh.OwnerID != "carol" {
		t.Fatalf("fresh account = %+v", fresh)
	}

	txns := decode[struct{ Items []entryView }](t, e.do(http.MethodGet, "/v1/account/transactions", "alice", ""))
	if len(txns.Items) != 2 {
		t.Fatalf("entries = %d, want 2", len(txns.Items))
	}
	for _, item := range txns.Items {
		if item.Kind != "CHARGE" || item.Amount >= 0 || item.JobID == "" {
			t.Fatalf("entry = %+v", item)
		}
	}
}

func TestHealthReportsFailingChecks(t *testing.T) {
	e := newTestEnv(t)
	e.app.Checks["store"] = func(context.Context) error { return nil }
	if rec := e.do(http.MethodGet, "/v1/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	e.app.Checks["queue"] = func(context.Context) error { return errors.New("channel closed") }
	rec := e.do(http.MethodGet, "/v1/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rec.Code)
	}
	body := decode[struct {
		Status string
		Checks map[string]string
	}](t, rec)
	if body.Status != "degraded" || body.Checks["queue"] != "channel closed" || body.Checks["store"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/v1/openapi.json", "", "")
	if rec.Code != http.StatusOK || !json.Valid(rec.Body.Bytes()) {
		t.Fatalf("openapi status = %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Fatalf("revalidation status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/docs", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `spec-url="/v1/openapi.json"`) {
		t.Fatalf("docs status = %d body = %s", rec.Code, rec.Body.String())
	}
}
