package twelvedata

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"marketdata/internal/provider"
)

// Bar is one row of a /time_series response.
type Bar struct {
	Datetime string          `json:"datetime"`
	Open     provider.Number `json:"open"`
	High     provider.Number `json:"high"`
	Low      provider.Number `json:"low"`
	Close    provider.Number `json:"close"`
	Volume   provider.Number `json:"volume"`
}

// Series is the /time_series payload for one symbol. Values are newest first.
type Series struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
		Currency string `json:"currency"`
		Exchange string `json:"exchange"`
	} `json:"meta"`
	Values []Bar  `json:"values"`
	Status string `json:"status"`
}

// SeriesResult is one symbol's outcome of an aggregate /time_series request.
type SeriesResult struct {
	Symbol string
	Series Series
	Err    error
}

// DailySeries requests the last outputSize daily bars for every symbol in one
// aggregate request.
func (c *Client) DailySeries(ctx context.Context, symbols []string, outputSize int, opts ...Option) ([]SeriesResult, error) {
	if outputSize <= 0 {
		outputSize = 1
	}
	params := url.Values{
		"symbol":     {strings.Join(symbols, ",")},
		"interval":   {"1day"},
		"outputsize": {strconv.Itoa(outputSize)},
	}
	body, err := c.get(ctx, "time_series", "/time_series", params, opts...)
	if err != nil {
		return nil, err
	}
	entries, err := splitEntries(body, symbols)
	if err != nil {
		return nil, err
	}
	out := make([]SeriesResult, 0, len(entries))
	for _, e := range entries {
		r := SeriesResult{Symbol: e.Symbol, Err: e.Err}
		if r.Err == nil {
			if err := json.Unmarshal(e.Raw, &r.Series); err != nil {
				r.Err = &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: e.Symbol, Reason: err.Error()}
			} else if len(r.Series.Values) == 0 {
				r.Err = &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: e.Symbol, Reason: "no bars"}
			}
		}
		out = append(out, r)
	}
	return out, nil
}
