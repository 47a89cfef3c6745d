package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultCaptchaTimeout = 5 * time.Second

// Verifier checks a CAPTCHA solution with an external service.
type Verifier interface {
	Verify(ctx context.Context, token string, remoteIP string) (bool, error)
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// HTTPVerifier speaks the siteverify protocol shared by reCAPTCHA, hCaptcha
// and Turnstile.
type HTTPVerifier struct {
	endpoint string
	secret   string
	timeout  time.Duration
	client   *http.Client
}

func NewHTTPVerifier(endpoint string, secret string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = DefaultCaptchaTimeout
	}

	return &HTTPVerifier{
		endpoint: endpoint,
		secret:   secret,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Verify fails closed: any transport or decoding error reports false.
func (v *HTTPVerifier) Verify(ctx context.Context, token string, remoteIP string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha verification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("captcha verification: unexpected status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return false, fmt.Errorf("decode captcha response: %w", err)
	}

	return body.Success, nil
}

// CaptchaRequired reports whether the principal's recent failures call for
// a CAPTCHA before the code is compared.
func CaptchaRequired(failures24h int, threshold int) bool {
	return threshold > 0 && failures24h >= threshold
}
