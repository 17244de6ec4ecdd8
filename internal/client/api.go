// Package client talks to the genforge HTTP API and drives a generation from
// submission to a terminal outcome.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrTransport marks failures where the request may or may not have been
	// processed by the server.
	ErrTransport = errors.New("client: transport failure")
	// ErrRecoveryAmbiguous means the outcome of a submission could not be
	// established. Retrying with the same job id is safe.
	ErrRecoveryAmbiguous = errors.New("client: job outcome unknown")
	ErrJobFailed         = errors.New("client: job failed")
	ErrWaitTimeout       = errors.New("client: job still pending")
)

// APIError is a clean application error returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError carrying status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type JobView struct {
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

func (j *JobView) Terminal() bool {
	return j != nil && (j.Status == "SUCCEEDED" || j.Status == "FAILED")
}

type SubmitRequest struct {
	JobID       string          `json:"job_id,omitempty"`
	Params      json.RawMessage `json:"params"`
	Cost        int64           `json:"cost"`
	WaitSeconds int             `json:"wait_seconds,omitempty"`
}

type SubmitResponse struct {
	JobID             string   `json:"job_id"`
	Status            string   `json:"status"`
	BalanceAfterDebit int64    `json:"balance_after_debit"`
	Duplicate         bool     `json:"duplicate"`
	Job               *JobView `json:"job,omitempty"`
}

type Account struct {
	OwnerID  string `json:"owner_id"`
	Diamonds int64  `json:"diamonds"`
	XP       int64  `json:"xp"`
}

// API is a thin JSON client for the genforge HTTP API.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Submit posts a job. The returned status distinguishes a terminal waited job
// (200) from a newly admitted one (201) and one still pending after the wait
// (202).
func (a *API) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, int, error) {
	var out SubmitResponse
	status, err := a.do(ctx, http.MethodPost, "/v1/jobs", req, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

func (a *API) Job(ctx context.Context, jobID string) (*JobView, error) {
	var out JobView
	if _, err := a.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Jobs(ctx context.Context, limit int) ([]JobView, error) {
	var out struct {
		Items []JobView `json:"items"`
	}
	path := "/v1/jobs"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	if _, err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (a *API) Account(ctx context.Context) (*Account, error) {
	var out Account
	if _, err := a.do(ctx, http.MethodGet, "/v1/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LatestSucceeded returns the newest succeeded job created at or after since,
// or nil when there is none.
func (a *API) LatestSucceeded(ctx context.Context, since time.Time) (*JobView, error) {
	var out JobView
	status, err := a.do(ctx, http.MethodGet, "/v1/jobs/recent?since="+url.QueryEscape(since.UTC().Format(time.RFC3339)), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &out, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return resp.StatusCode, ctx.Err()
		}
		return resp.StatusCode, fmt.Errorf("%w: read %s: %w", ErrTransport, path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := decodeError(resp.StatusCode, raw)
		// Gateways answer these without knowing what the API did.
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout {
			return resp.StatusCode, fmt.Errorf("%w: %w", ErrTransport, apiErr)
		}
		return resp.StatusCode, apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

func decodeError(status int, raw []byte) *APIError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status, Code: http.StatusText(status)}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}
