// Package gateway talks to the API gateway that fronts the query
// translator, the dataset registry and the geostore.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/featurestream/featurestream/internal/apperr"
)

const maxResponseBody = 8 << 20

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Transport http.RoundTripper
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout, Transport: cfg.Transport},
	}, nil
}

// do sends a JSON request and decodes a 2xx JSON response into out. Non-2xx
// responses become *apperr.StatusError tagged with service.
func (c *Client) do(ctx context.Context, service, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", service, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s response body: %w", service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apperr.StatusError{Service: service, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}

// errorDetail extracts the first JSON:API error detail, falling back to the
// raw body text.
func errorDetail(raw []byte) string {
	var parsed struct {
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if len(parsed.Errors) > 0 && parsed.Errors[0].Detail != "" {
			return parsed.Errors[0].Detail
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
