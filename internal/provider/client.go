package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/featurestream/featurestream/internal/apperr"
)

const maxErrorBody = 64 << 10

type TransportConfig struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	InsecureSkipVerify    bool
}

// NewTransport builds the outbound connection pool shared by the provider
// client and the gateway client. ResponseHeaderTimeout bounds the wait for
// headers only; streaming bodies are bounded by the pipeline guard.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	idleTimeout := cfg.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed test servers
	}
	return transport
}

type Config struct {
	Transport http.RoundTripper
	// RequestsPerSecond limits outbound provider requests. Zero disables it.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Client issues requests against ArcGIS feature services.
type Client struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func NewClient(cfg Config) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(TransportConfig{})
	}
	client := &Client{
		client:    &http.Client{Transport: transport},
		userAgent: strings.TrimSpace(cfg.UserAgent),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return client
}

// Response is an open provider response. The caller owns Body.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Query issues a GET against requestURL. Non-2xx responses are returned as
// *apperr.StatusError with the body closed.
func (c *Client) Query(ctx context.Context, requestURL string) (*Response, error) {
	resp, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, statusError(resp)
	}
	return &Response{
		URL:        requestURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Alias  string `json:"alias"`
	Length *int   `json:"length,omitempty"`
}

// Fields returns the layer's field list.
func (c *Client) Fields(ctx context.Context, connectorURL string) ([]Field, error) {
	requestURL := FieldsURL(connectorURL)
	resp, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var parsed struct {
		Fields []Field `json:"fields"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode fields response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &apperr.StatusError{Service: "provider", StatusCode: parsed.Error.Code, Detail: parsed.Error.Message}
	}
	if parsed.Fields == nil {
		parsed.Fields = []Field{}
	}
	return parsed.Fields, nil
}

func (c *Client) get(ctx context.Context, requestURL string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for provider rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request provider: %w", err)
	}
	return resp, nil
}

// statusError reads the provider's error message from a failed response body,
// falling back to the raw text.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(raw))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		switch {
		case parsed.Error.Message != "":
			detail = parsed.Error.Message
		case parsed.Message != "":
			detail = parsed.Message
		}
	}
	return &apperr.StatusError{Service: "provider", StatusCode: resp.StatusCode, Detail: detail}
}
