// Package quest reports faucet usage to the quest service.
package quest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL   = "https://quest.nautilus.sh"
	ActionFaucetDrip = "faucet_drip_once"
)

// Config defines the quest client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client posts actions to {BaseURL}/quest.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type wallet struct {
	Address string `json:"address"`
}

type actionRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

// NewClient constructs a quest client.
func NewClient(cfg Config) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SubmitAction records that address performed action. params are merged
// into the data object next to the wallet list.
func (c *Client) SubmitAction(ctx context.Context, action, address string, params map[string]any) error {
	if c == nil {
		return fmt.Errorf("quest: client not configured")
	}
	data := make(map[string]any, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	data["wallets"] = []wallet{{Address: address}}
	body, err := json.Marshal(actionRequest{Action: action, Data: data})
	if err != nil {
		return fmt.Errorf("quest: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("quest: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quest: call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("quest: unexpected status %d", resp.StatusCode)
	}
	return nil
}
