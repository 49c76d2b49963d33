// Package apiclient implements the outbound HTTP API client contract
// from spec §4.7 and the wire payload from spec §6: a JSON POST carrying
// one batch, with API-key and/or bearer auth and a configured timeout.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/priceleap/enq/internal/errkind"
)

// Request is the JSON payload spec §6 defines, camelCase on the wire.
type Request struct {
	FileName    string           `json:"fileName"`
	SenderEmail string           `json:"senderEmail"`
	Subject     string           `json:"subject"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	Data        []map[string]any `json:"data"`
	IsLast      bool             `json:"isLast"`
}

// Response is the JSON body spec §6 expects back.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Config binds spec §6's `api.*` family.
type Config struct {
	BaseURL     string
	Endpoint    string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
}

// Client is the contract C6 depends on.
type Client interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// HTTPClient is the production binding. A single net/http-based client
// is enough here: the contract is one POST with header auth and a
// timeout, which net/http already expresses directly — no ecosystem HTTP
// client library in the pack or wider corpus adds anything this needs.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (c *HTTPClient) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errkind.Validationf("apiclient: marshal request: %v", err)
	}

	url := c.cfg.BaseURL + c.cfg.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, errkind.Integrationf(err, "apiclient: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	if c.cfg.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, errkind.Integrationf(err, "apiclient: POST %s", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errkind.Integrationf(err, "apiclient: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, errkind.Integrationf(nil, "apiclient: %s returned %d: %s", url, resp.StatusCode, truncate(respBody, 500))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Response{}, errkind.Integrationf(err, "apiclient: parse response")
	}
	if !out.Success {
		return out, errkind.Integrationf(nil, "apiclient: %s reported success=false: %s", url, out.Message)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
