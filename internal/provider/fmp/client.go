package fmp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"

	"marketdata/internal/provider"
)

const baseURL = "https://financialmodelingprep.com/api/v3"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=fmp_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Financial Modeling Prep API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
	query      url.Values
}

// Option is a configuration option for the FMP client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new FMP client.
func NewClient(key string, options ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if key != "" {
		c.query.Add("apikey", key)
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Configured reports whether an API key was supplied.
func (c *Client) Configured() bool {
	return c.query.Get("apikey") != ""
}

// get fetches path and returns the body once the "Error Message" envelope
// has been ruled out.
func (c *Client) get(ctx context.Context, op, path, symbol string, params url.Values) ([]byte, error) {
	if !c.Configured() {
		return nil, provider.NotConfigured(provider.Alternate)
	}
	query := maps.Clone(c.query)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Vendor: provider.Alternate, Op: op, Err: err}
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &provider.TransportError{Vendor: provider.Alternate, Op: op, Err: err}
	}

	if err := checkEnvelope(b, symbol); err != nil {
		return nil, err
	}

	switch res.StatusCode {
	case http.StatusOK:
		return b, nil
	case http.StatusTooManyRequests:
		return nil, &provider.ProviderError{Vendor: provider.Alternate, Symbol: symbol, Code: res.StatusCode, Message: "rate limited", RateLimited: true}
	default:
		return nil, &provider.TransportError{Vendor: provider.Alternate, Op: op, Status: res.StatusCode}
	}
}

// checkEnvelope detects {"Error Message": "..."}, which the API also sends
// with non-200 statuses.
func checkEnvelope(b []byte, symbol string) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	var e struct {
		ErrorMessage string `json:"Error Message"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return nil
	}
	msg := e.ErrorMessage
	if msg == "" {
		msg = e.Message
	}
	if msg == "" {
		return nil
	}
	return &provider.ProviderError{
		Vendor:      provider.Alternate,
		Symbol:      symbol,
		Message:     msg,
		RateLimited: bytes.Contains(bytes.ToLower([]byte(msg)), []byte("limit reach")),
	}
}
