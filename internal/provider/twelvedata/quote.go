package twelvedata

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"marketdata/internal/provider"
)

// QuoteData is the /quote payload for one symbol.
type QuoteData struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Exchange      string          `json:"exchange"`
	Currency      string          `json:"currency"`
	Datetime      string          `json:"datetime"`
	Timestamp     int64           `json:"timestamp"`
	Open          provider.Number `json:"open"`
	High          provider.Number `json:"high"`
	Low           provider.Number `json:"low"`
	Close         provider.Number `json:"close"`
	Volume        provider.Number `json:"volume"`
	PreviousClose provider.Number `json:"previous_close"`
	Change        provider.Number `json:"change"`
	PercentChange provider.Number `json:"percent_change"`
	IsMarketOpen  bool            `json:"is_market_open"`
}

// QuoteResult is one symbol's outcome of an aggregate /quote request.
type QuoteResult struct {
	Symbol string
	Quote  QuoteData
	Err    error
}

// Quotes requests /quote for every symbol in one aggregate request. Symbols
// missing from the response are simply absent from the result.
func (c *Client) Quotes(ctx context.Context, symbols []string, opts ...Option) ([]QuoteResult, error) {
	body, err := c.get(ctx, "quote", "/quote", url.Values{"symbol": {strings.Join(symbols, ",")}}, opts...)
	if err != nil {
		return nil, err
	}
	entries, err := splitEntries(body, symbols)
	if err != nil {
		return nil, err
	}
	out := make([]QuoteResult, 0, len(entries))
	for _, e := range entries {
		r := QuoteResult{Symbol: e.Symbol, Err: e.Err}
		if r.Err == nil {
			if err := json.Unmarshal(e.Raw, &r.Quote); err != nil {
				r.Err = &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: e.Symbol, Reason: err.Error()}
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Quote requests /quote for one symbol.
func (c *Client) Quote(ctx context.Context, symbol string, opts ...Option) (QuoteData, error) {
	results, err := c.Quotes(ctx, []string{symbol}, opts...)
	if err != nil {
		return QuoteData{}, err
	}
	for _, r := range results {
		if r.Symbol == symbol || len(results) == 1 {
			return r.Quote, r.Err
		}
	}
	return QuoteData{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: "symbol missing from response"}
}

// PriceData is the /price payload for one symbol.
type PriceData struct {
	Price provider.Number `json:"price"`
}

// Price requests the latest price only.
func (c *Client) Price(ctx context.Context, symbol string, opts ...Option) (PriceData, error) {
	body, err := c.get(ctx, "price", "/price", url.Values{"symbol": {symbol}}, opts...)
	if err != nil {
		return PriceData{}, err
	}
	entries, err := splitEntries(body, []string{symbol})
	if err != nil {
		return PriceData{}, err
	}
	if len(entries) == 0 {
		return PriceData{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: "empty price response"}
	}
	if entries[0].Err != nil {
		return PriceData{}, entries[0].Err
	}
	var p PriceData
	if err := json.Unmarshal(entries[0].Raw, &p); err != nil {
		return PriceData{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: err.Error()}
	}
	return p, nil
}
