// Package captcha verifies reCAPTCHA v3 tokens.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultEndpoint is the Google siteverify endpoint.
const DefaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// ErrNotConfigured is returned when no secret key is set.
var ErrNotConfigured = errors.New("captcha: secret key not configured")

// Config defines the verifier client settings.
type Config struct {
	Endpoint string
	Secret   string
	Timeout  time.Duration
}

// Verdict is the siteverify response.
type Verdict struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	Hostname    string   `json:"hostname"`
	ChallengeTS string   `json:"challenge_ts"`
	ErrorCodes  []string `json:"error-codes"`
}

// Passes reports whether the verdict is a success at or above minScore.
func (v Verdict) Passes(minScore float64) bool {
	return v.Success && v.Score >= minScore
}

// Client calls the siteverify endpoint.
type Client struct {
	endpoint   string
	secret     string
	httpClient *http.Client
}

// NewClient constructs a verifier client.
func NewClient(cfg Config) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		secret:   strings.TrimSpace(cfg.Secret),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Verify submits token for verification. remoteIP is optional.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (Verdict, error) {
	if c == nil || c.secret == "" {
		return Verdict{}, ErrNotConfigured
	}
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Verdict{}, fmt.Errorf("captcha: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("captcha: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Verdict{}, fmt.Errorf("captcha: unexpected status %d", resp.StatusCode)
	}
	var verdict Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("captcha: decode: %w", err)
	}
	return verdict, nil
}
