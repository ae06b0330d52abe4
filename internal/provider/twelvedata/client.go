package twelvedata

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"

	"marketdata/internal/provider"
)

const baseURL = "https://api.twelvedata.com"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=twelvedata_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Twelve Data REST API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
}

// Option is a configuration option for the Twelve Data client.
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

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Twelve Data client. An empty key yields a
// ConfigurationError on every call without touching the network.
func NewClient(key string, options ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if key != "" {
		// https://twelvedata.com/docs#authentication
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

// get performs a GET against path and returns the raw body of a 200 response.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, opts ...Option) ([]byte, error) {
	if !c.Configured() {
		return nil, provider.NotConfigured(provider.Primary)
	}
	override := &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(override)
	}

	query := maps.Clone(override.query)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	u := fmt.Sprintf("%s%s?%s", override.baseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Vendor: provider.Primary, Op: op, Err: err}
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusTooManyRequests:
		return nil, &provider.ProviderError{Vendor: provider.Primary, Code: res.StatusCode, Message: "rate limited", RateLimited: true}

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &provider.ProviderError{Vendor: provider.Primary, Code: res.StatusCode, Message: "unauthorized"}

	default:
		return nil, &provider.TransportError{Vendor: provider.Primary, Op: op, Status: res.StatusCode}
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &provider.TransportError{Vendor: provider.Primary, Op: op, Err: err}
	}
	return b, nil
}
