package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/domain"
)

func TestAuthJWT(t *testing.T) {
	token, err := IssueToken("secret", "owner-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	var seen string
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{name: "valid", header: "Bearer " + token, code: http.StatusOK},
		{name: "missing", code: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, code: http.StatusUnauthorized},
		{name: "tampered", header: "Bearer " + token + "x", code: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if tc.code == http.StatusOK && seen != "owner-1" {
				t.Fatalf("user id = %q", seen)
			}
			if tc.code != http.StatusOK {
				var body struct {
					Error struct{ Code string } `json:"error"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error.Code != "unauthorized" {
					t.Fatalf("error body = %+v, %v", body, err)
				}
			}
		})
	}
}

func TestVerifyJWTRequiresSubject(t *testing.T) {
	token, _ := SignJWT("secret", TokenClaims{Exp: time.Now().Add(time.Hour).Unix()})
	if _, err := VerifyJWT("secret", token); err != ErrInvalidToken {
		t.Fatalf("VerifyJWT() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyJWTErrorsAreUnauthorized(t *testing.T) {
	valid, _ := SignJWT("secret", TokenClaims{Sub: "owner-1", Exp: time.Now().Add(time.Hour).Unix()})
	expired, _ := SignJWT("secret", TokenClaims{Sub: "owner-1", Exp: time.Now().Add(-time.Hour).Unix()})
	tests := []struct {
		name   string
		secret string
		token  string
		want   error
	}{
		{name: "wrong secret", secret: "other", token: valid, want: ErrInvalidSignature},
		{name: "expired", secret: "secret", token: expired, want: ErrTokenExpired},
		{name: "malformed", secret: "secret", token: "abc", want: ErrInvalidToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := VerifyJWT(tc.secret, tc.token)
			if !errors.Is(err, tc.want) || !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("VerifyJWT() error = %v, want %v wrapping ErrUnauthorized", err, tc.want)
			}
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var inner string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if inner != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id = %q / %q", inner, rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 100))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(inner) != 36 {
		t.Fatalf("oversized id should be replaced by a uuid, got %q", inner)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\ninjected")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(inner) != 36 || strings.Contains(inner, "injected") {
		t.Fatalf("unsafe id should be replaced by a uuid, got %q", inner)
	}
}

func TestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	h := RequestID(Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if line["status"] != float64(http.StatusTeapot) || line["bytes"] != float64(5) || line["path"] != "/v1/healthz" || line["request_id"] == "" {
		t.Fatalf("log line = %v", line)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
}
