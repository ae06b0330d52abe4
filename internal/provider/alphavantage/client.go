package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"marketdata/internal/provider"
)

const baseURL = "https://www.alphavantage.co"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Alpha Vantage API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	query      url.Values
}

// Option is a configuration option for the Alpha Vantage client.
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

func NewClient(key string, options ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
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

func (c *Client) Configured() bool {
	return c.query.Get("apikey") != ""
}

// Overview is the OVERVIEW function payload. Only the fields used downstream
// are decoded.
type Overview struct {
	Symbol               string          `json:"Symbol"`
	Name                 string          `json:"Name"`
	Exchange             string          `json:"Exchange"`
	Currency             string          `json:"Currency"`
	Country              string          `json:"Country"`
	Sector               string          `json:"Sector"`
	Industry             string          `json:"Industry"`
	FiscalYearEnd        string          `json:"FiscalYearEnd"`
	LatestQuarter        string          `json:"LatestQuarter"`
	MarketCapitalization provider.Number `json:"MarketCapitalization"`
}

// Overview requests function=OVERVIEW for one symbol.
func (c *Client) Overview(ctx context.Context, symbol string) (Overview, error) {
	if !c.Configured() {
		return Overview{}, provider.NotConfigured(provider.FundamentalsVendor)
	}
	query := maps.Clone(c.query)
	query.Set("function", "OVERVIEW")
	query.Set("symbol", symbol)

	u := fmt.Sprintf("%s/query?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return Overview{}, fmt.Errorf("creating request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Overview{}, &provider.TransportError{Vendor: provider.FundamentalsVendor, Op: "overview", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Overview{}, &provider.TransportError{Vendor: provider.FundamentalsVendor, Op: "overview", Status: res.StatusCode}
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return Overview{}, &provider.TransportError{Vendor: provider.FundamentalsVendor, Op: "overview", Err: err}
	}
	if err := checkEnvelope(b, symbol); err != nil {
		return Overview{}, err
	}

	var o Overview
	if err := json.Unmarshal(b, &o); err != nil {
		return Overview{}, &provider.DataUnavailableError{Vendor: provider.FundamentalsVendor, Symbol: symbol, Reason: err.Error()}
	}
	if o.Symbol == "" {
		// the API answers {} for unknown symbols
		return Overview{}, &provider.DataUnavailableError{Vendor: provider.FundamentalsVendor, Symbol: symbol, Reason: "empty overview"}
	}
	return o, nil
}

// checkEnvelope detects "Error Message", "Note" and "Information" replies.
// The last two are how the API signals throttling.
func checkEnvelope(b []byte, symbol string) error {
	var e struct {
		ErrorMessage string `json:"Error Message"`
		Note         string `json:"Note"`
		Information  string `json:"Information"`
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return nil
	}
	switch {
	case e.ErrorMessage != "":
		return &provider.ProviderError{Vendor: provider.FundamentalsVendor, Symbol: symbol, Message: e.ErrorMessage}
	case e.Note != "":
		return &provider.ProviderError{Vendor: provider.FundamentalsVendor, Symbol: symbol, Message: e.Note, RateLimited: true}
	case e.Information != "":
		return &provider.ProviderError{
			Vendor:      provider.FundamentalsVendor,
			Symbol:      symbol,
			Message:     e.Information,
			RateLimited: strings.Contains(strings.ToLower(e.Information), "rate limit"),
		}
	}
	return nil
}
