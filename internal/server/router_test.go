package server_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/diplomaflow/internal/server"
	"github.com/Lllllllleong/diplomaflow/internal/services"
)

func newTestRouter(h http.Handler) http.Handler {
	return server.NewRouter(h, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDiplomaRouteReceivesEveryMethod(t *testing.T) {
	var seen []string
	r := newTestRouter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method)
		w.WriteHeader(http.StatusTeapot)
	}))

	methods := []string{http.MethodPost, http.MethodGet, http.MethodPut}
	for _, m := range methods {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(m, server.DiplomaPath, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("%s: expected handler status, got %d", m, rec.Code)
		}
	}
	if len(seen) != len(methods) {
		t.Fatalf("handler saw %v", seen)
	}
}

func TestRecovererCatchesPanics(t *testing.T) {
	r := newTestRouter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.DiplomaPath, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	r := newTestRouter(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type ipRecorder struct{ remoteIP string }

func (v *ipRecorder) Verify(_ context.Context, _, remoteIP string) bool {
	v.remoteIP = remoteIP
	return false
}

func TestForwardedClientIPReachesCaptcha(t *testing.T) {
	verifier := &ipRecorder{}
	mailer := services.New(verifier, nil, nil, services.DiplomaMailerConfig{ClientIPHeader: "CF-Connecting-IP"})
	r := newTestRouter(mailer)

	req := httptest.NewRequest(http.MethodPost, server.DiplomaPath, strings.NewReader(`{"token":"t"}`))
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if verifier.remoteIP != "198.51.100.9" {
		t.Fatalf("captcha saw ip %q", verifier.remoteIP)
	}
}
