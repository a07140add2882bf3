// Package captcha verifies human-presence tokens issued by Cloudflare Turnstile.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is the Turnstile siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Verifier exchanges a client token for a pass/fail judgement.
// Tests inject a stub instead of calling Cloudflare.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) bool
}

type turnstileResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// TurnstileVerifier is the Verifier backed by the siteverify API.
type TurnstileVerifier struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// NewTurnstileVerifier returns a verifier that posts to verifyURL. An empty
// verifyURL falls back to DefaultVerifyURL.
func NewTurnstileVerifier(secret, verifyURL string, timeout time.Duration) *TurnstileVerifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &TurnstileVerifier{
		secret:     secret,
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Verify reports whether Turnstile accepted the token. Any transport or
// decoding failure counts as not verified.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) bool {
	outcome, err := v.siteverify(ctx, token, remoteIP)
	if err != nil {
		slog.Warn("Turnstile verification failed", "error", err)
		return false
	}
	if !outcome.Success {
		slog.Warn("Turnstile rejected token", "errorCodes", outcome.ErrorCodes)
		return false
	}
	return true
}

func (v *TurnstileVerifier) siteverify(ctx context.Context, token, remoteIP string) (*turnstileResponse, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("captcha: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("captcha: read response: %w", err)
	}

	var outcome turnstileResponse
	if err := json.Unmarshal(body, &outcome); err != nil {
		return nil, fmt.Errorf("captcha: unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	return &outcome, nil
}
