package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newSiteverify(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *TurnstileVerifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewTurnstileVerifier("secret-key", srv.URL, 2*time.Second)
}

func TestVerifySuccessSendsForm(t *testing.T) {
	var got struct{ secret, response, remoteIP, contentType string }
	v := newSiteverify(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got.secret = r.PostForm.Get("secret")
		got.response = r.PostForm.Get("response")
		got.remoteIP = r.PostForm.Get("remoteip")
		got.contentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	if !v.Verify(context.Background(), "tok", "203.0.113.7") {
		t.Fatal("expected token to verify")
	}
	if got.secret != "secret-key" || got.response != "tok" || got.remoteIP != "203.0.113.7" {
		t.Fatalf("unexpected form: %+v", got)
	}
	if got.contentType != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", got.contentType)
	}
}

func TestVerifyOmitsEmptyRemoteIP(t *testing.T) {
	v := newSiteverify(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if _, ok := r.PostForm["remoteip"]; ok {
			t.Error("remoteip should be omitted when unknown")
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	if !v.Verify(context.Background(), "tok", "") {
		t.Fatal("expected token to verify")
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
	}{
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
		}},
		{"missing success", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newSiteverify(t, tt.handler)
			if v.Verify(context.Background(), "tok", "") {
				t.Fatal("expected verification to fail")
			}
		})
	}
}

func TestVerifyTransportErrorFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := NewTurnstileVerifier("secret-key", url, time.Second)
	if v.Verify(context.Background(), "tok", "") {
		t.Fatal("expected verification to fail when the endpoint is unreachable")
	}
}

func TestVerifyTimeoutFailsClosed(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	v := NewTurnstileVerifier("secret-key", srv.URL, 50*time.Millisecond)
	if v.Verify(context.Background(), "tok", "") {
		t.Fatal("expected verification to fail on timeout")
	}
}
