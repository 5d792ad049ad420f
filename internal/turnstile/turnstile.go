// Package turnstile verifies Cloudflare Turnstile challenge tokens submitted
// with interior requests.
package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// Verifier checks challenge tokens against the Cloudflare siteverify
// endpoint. A zero-secret verifier is disabled and passes everything, which
// is how development environments run.
type Verifier struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// New creates a verifier. secret may be empty to disable verification.
func New(secret, verifyURL string) *Verifier {
	return &Verifier{
		secret:     secret,
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether verification is configured.
func (v *Verifier) Enabled() bool { return v != nil && v.secret != "" }

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks one challenge token. remoteIP may be empty.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if !v.Enabled() {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing token", domain.ErrCaptchaFailed)
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: siteverify unreachable: %v", domain.ErrCaptchaFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: siteverify returned %d", domain.ErrCaptchaFailed, res.StatusCode)
	}
	var out verifyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode siteverify response: %v", domain.ErrCaptchaFailed, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", domain.ErrCaptchaFailed, strings.Join(out.ErrorCodes, ", "))
	}
	return nil
}
