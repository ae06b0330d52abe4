package twelvedata

import (
	"context"
	"encoding/json"
	"net/url"

	"marketdata/internal/provider"
)

// ProfileData is the /profile payload.
type ProfileData struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Exchange    string `json:"exchange"`
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	Country     string `json:"country"`
	Description string `json:"description"`
}

func (c *Client) Profile(ctx context.Context, symbol string, opts ...Option) (ProfileData, error) {
	body, err := c.get(ctx, "profile", "/profile", url.Values{"symbol": {symbol}}, opts...)
	if err != nil {
		return ProfileData{}, err
	}
	if err := checkEnvelope(body, symbol); err != nil {
		return ProfileData{}, err
	}
	var p ProfileData
	if err := json.Unmarshal(body, &p); err != nil {
		return ProfileData{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: err.Error()}
	}
	if p.Name == "" && p.Symbol == "" {
		return ProfileData{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: "empty profile"}
	}
	return p, nil
}

// SearchData is one /symbol_search match.
type SearchData struct {
	Symbol         string `json:"symbol"`
	InstrumentName string `json:"instrument_name"`
	Exchange       string `json:"exchange"`
	MICCode        string `json:"mic_code"`
	InstrumentType string `json:"instrument_type"`
	Country        string `json:"country"`
	Currency       string `json:"currency"`
}

func (c *Client) SymbolSearch(ctx context.Context, query string, opts ...Option) ([]SearchData, error) {
	body, err := c.get(ctx, "symbol_search", "/symbol_search", url.Values{"symbol": {query}}, opts...)
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body, query); err != nil {
		return nil, err
	}
	var res struct {
		Data []SearchData `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: query, Reason: err.Error()}
	}
	return res.Data, nil
}
