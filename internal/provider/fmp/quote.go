package fmp

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"marketdata/internal/provider"
)

// QuoteData is one element of the /quote/{symbol} array.
type QuoteData struct {
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	Price             provider.Number `json:"price"`
	ChangesPercentage provider.Number `json:"changesPercentage"`
	Change            provider.Number `json:"change"`
	DayLow            provider.Number `json:"dayLow"`
	DayHigh           provider.Number `json:"dayHigh"`
	MarketCap         provider.Number `json:"marketCap"`
	Volume            provider.Number `json:"volume"`
	Open              provider.Number `json:"open"`
	PreviousClose     provider.Number `json:"previousClose"`
	Exchange          string          `json:"exchange"`
	Timestamp         int64           `json:"timestamp"`
}

// Quote requests /quote/{symbol}. An empty array is reported as unavailable.
func (c *Client) Quote(ctx context.Context, symbol string) (QuoteData, error) {
	b, err := c.get(ctx, "quote", "/quote/"+url.PathEscape(symbol), symbol, nil)
	if err != nil {
		return QuoteData{}, err
	}
	var items []QuoteData
	if err := json.Unmarshal(b, &items); err != nil {
		return QuoteData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: err.Error()}
	}
	if len(items) == 0 {
		return QuoteData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: "empty quote response"}
	}
	return items[0], nil
}

// MarketCapData is one element of the /market-capitalization/{symbol} array.
type MarketCapData struct {
	Symbol    string          `json:"symbol"`
	Date      string          `json:"date"`
	MarketCap provider.Number `json:"marketCap"`
}

func (c *Client) MarketCap(ctx context.Context, symbol string) (MarketCapData, error) {
	b, err := c.get(ctx, "market_cap", "/market-capitalization/"+url.PathEscape(symbol), symbol, nil)
	if err != nil {
		return MarketCapData{}, err
	}
	var items []MarketCapData
	if err := json.Unmarshal(b, &items); err != nil {
		return MarketCapData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: err.Error()}
	}
	if len(items) == 0 || !items[0].MarketCap.Valid {
		return MarketCapData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: "no market cap"}
	}
	return items[0], nil
}

// EarningsData is the selected element of the earnings calendar.
type EarningsData struct {
	Symbol       string
	Date         time.Time
	EPSEstimated decimal.NullDecimal
}

// lastEarningsPath selects the final element of the calendar array. The
// vendor is assumed to list dates in chronological order.
const lastEarningsPath = "$[-1:]"

// NextEarnings requests /historical/earning_calendar/{symbol} and returns the
// last element of the returned array.
func (c *Client) NextEarnings(ctx context.Context, symbol string) (EarningsData, error) {
	b, err := c.get(ctx, "earnings", "/historical/earning_calendar/"+url.PathEscape(symbol), symbol, nil)
	if err != nil {
		return EarningsData{}, err
	}
	var jobj any
	if err := json.Unmarshal(b, &jobj); err != nil {
		return EarningsData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: err.Error()}
	}
	jval, err := jsonpath.Get(lastEarningsPath, jobj)
	if err != nil {
		return EarningsData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: err.Error()}
	}
	// jsonpath returns a list for slices; keep the first one if any
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return EarningsData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: "empty earnings calendar"}
		}
		jval = jlist[0]
	}
	item, ok := jval.(map[string]any)
	if !ok {
		return EarningsData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: "earnings entry is not an object"}
	}

	out := EarningsData{Symbol: symbol}
	if s, ok := item["date"].(string); ok {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return EarningsData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: err.Error()}
		}
		out.Date = d
	} else {
		return EarningsData{}, &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: symbol, Reason: "earnings entry has no date"}
	}
	if f, ok := item["epsEstimated"].(float64); ok {
		out.EPSEstimated = decimal.NewNullDecimal(decimal.NewFromFloat(f))
	}
	return out, nil
}
