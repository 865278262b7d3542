package httpapp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alphabot-ai/tiredd/internal/errs"
)

func TestStatusFor(t *testing.T) {
	tests := map[errs.Kind]int{
		errs.Unauthenticated:    http.StatusUnauthorized,
		errs.InvalidCredentials: http.StatusUnauthorized,
		errs.NotFound:           http.StatusNotFound,
		errs.InvalidContent:     http.StatusBadRequest,
		errs.InvalidParent:      http.StatusBadRequest,
		errs.InvalidInput:       http.StatusBadRequest,
		errs.AlreadyVoted:       http.StatusConflict,
		errs.Transient:          http.StatusServiceUnavailable,
		errs.Internal:           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.writeError(rec, errors.New("dial tcp 10.0.0.1: secret"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("internal error leaked: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.writeError(rec, errs.Reason("content.CreatePost", errs.InvalidContent, "title too long"))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "title too long") {
		t.Fatalf("expected detail for client error: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/post", nil)
	if got := sessionToken(req, ""); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer header-token")
	if got := sessionToken(req, ""); got != "header-token" {
		t.Fatalf("expected header token, got %q", got)
	}
	if got := sessionToken(req, " body-token "); got != "body-token" {
		t.Fatalf("body token should win, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigin = "https://tiredd.example"
	s := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/upvotePost", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://tiredd.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tiredd_http_requests_total") {
		t.Fatalf("metrics: %d, missing request counter", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
