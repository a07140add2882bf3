package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/Lllllllleong/diplomaflow/internal/models"
)

const maxBodyBytes = 1 << 20

// ServeHTTP is the diploma request endpoint. Only POST is accepted. Errors
// are written as text/plain, successes as the provider's JSON result.
func (f *DiplomaMailerFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		f.writeError(w, r, &RequestError{Kind: KindMethod, Message: msgMethod})
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Panic while issuing diploma.", "panic", p, "stack", string(debug.Stack()))
			f.writeError(w, r, &RequestError{Kind: KindInternal, Message: msgInternal, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	var req models.DiplomaRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeError(w, r, &RequestError{Kind: KindInternal, Message: msgInternal, Err: fmt.Errorf("could not parse JSON body: %w", err)})
		return
	}

	res, err := f.Process(r.Context(), &req, f.clientIP(r))
	if err != nil {
		f.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to encode response.", "error", err)
	}
}

// clientIP prefers the configured proxy header and falls back to the peer
// address, which the standalone server's RealIP middleware has already
// rewritten from X-Forwarded-For or X-Real-IP.
func (f *DiplomaMailerFunction) clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get(f.config.ClientIPHeader)); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError logs the fault with full detail and writes the client-facing
// message for its kind.
func (f *DiplomaMailerFunction) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		reqErr = &RequestError{Kind: KindInternal, Message: msgInternal, Err: err}
	}
	status := reqErr.Kind.Status()

	logCtx := slog.With("kind", reqErr.Kind.String(), "status", status, "path", r.URL.Path)
	switch {
	case status >= http.StatusInternalServerError:
		logCtx.Error("Diploma request failed.", "error", err)
	case reqErr.Kind == KindAuthorization:
		logCtx.Warn("Diploma request rejected.", "error", err)
	default:
		logCtx.Info("Diploma request refused.", "error", err)
	}

	http.Error(w, reqErr.publicMessage(f.config.ExposeErrorDetails), status)
}
