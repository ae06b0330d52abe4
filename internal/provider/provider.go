package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ID names one of the three upstream vendors.
type ID string

const (
	Primary            ID = "twelvedata"
	Alternate          ID = "fmp"
	FundamentalsVendor ID = "alphavantage"
)

// Source records which write path produced a cached quote.
type Source string

const (
	SourceRESTQuote     Source = "rest-quote"
	SourceRESTPrice     Source = "rest-price"
	SourceRESTBatch     Source = "rest-batch"
	SourceWebsocket     Source = "websocket"
	SourceAltVendorPoll Source = "alt-vendor-poll"
)

// Quote is the normalized market snapshot shared by every vendor.
// OriginalSymbol is the user-facing ticker and the identity key in the cache.
type Quote struct {
	OriginalSymbol string              `json:"original_symbol"`
	VendorSymbol   string              `json:"vendor_symbol"`
	Price          decimal.NullDecimal `json:"price"`
	Change         decimal.NullDecimal `json:"change"`
	ChangePercent  decimal.NullDecimal `json:"change_percent"`
	Volume         decimal.NullDecimal `json:"volume"`
	PreviousClose  decimal.NullDecimal `json:"previous_close"`
	High           decimal.NullDecimal `json:"high"`
	Low            decimal.NullDecimal `json:"low"`
	Open           decimal.NullDecimal `json:"open"`
	LastUpdated    time.Time           `json:"last_updated"`
	Source         Source              `json:"source"`
	IsIntraday     bool                `json:"is_intraday"`
}

// HasPrice reports whether the quote carries a usable (positive) price.
func (q Quote) HasPrice() bool {
	return q.Price.Valid && q.Price.Decimal.IsPositive()
}

// Entry is one element of an aggregate response, keyed by the vendor symbol
// that was requested. Err carries a per-symbol vendor error when present.
type Entry struct {
	VendorSymbol string
	Quote        Quote
	Err          error
}

// VolumeBar is one daily bar of a volume history.
type VolumeBar struct {
	Date   time.Time       `json:"date"`
	Volume decimal.Decimal `json:"volume"`
}

// VolumeEntry is one element of an aggregate time-series response.
type VolumeEntry struct {
	VendorSymbol string
	Bars         []VolumeBar
	Err          error
}

// VolumeSummary aggregates the last Days daily bars of a symbol.
type VolumeSummary struct {
	Symbol        string          `json:"symbol"`
	VendorSymbol  string          `json:"vendor_symbol"`
	Days          int             `json:"days"`
	Bars          []VolumeBar     `json:"bars"`
	AverageVolume decimal.Decimal `json:"average_volume"`
	LatestVolume  decimal.Decimal `json:"latest_volume"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
}

// SummarizeVolume builds a VolumeSummary from bars ordered newest first.
func SummarizeVolume(symbol, vendorSymbol string, days int, bars []VolumeBar) VolumeSummary {
	if days > 0 && len(bars) > days {
		bars = bars[:days]
	}
	s := VolumeSummary{Symbol: symbol, VendorSymbol: vendorSymbol, Days: days, Bars: bars}
	for _, b := range bars {
		s.TotalVolume = s.TotalVolume.Add(b.Volume)
	}
	if len(bars) > 0 {
		s.LatestVolume = bars[0].Volume
		s.AverageVolume = s.TotalVolume.Div(decimal.NewFromInt(int64(len(bars))))
	}
	return s
}

// Fundamentals holds identifying and fiscal metadata for a symbol.
// Supported is false for placeholder records synthesized without a vendor call.
type Fundamentals struct {
	Symbol        string              `json:"symbol"`
	VendorSymbol  string              `json:"vendor_symbol"`
	Name          string              `json:"name"`
	Exchange      string              `json:"exchange"`
	Currency      string              `json:"currency"`
	Country       string              `json:"country"`
	Sector        string              `json:"sector"`
	Industry      string              `json:"industry"`
	FiscalYearEnd string              `json:"fiscal_year_end"`
	LatestQuarter time.Time           `json:"latest_quarter"`
	MarketCap     decimal.NullDecimal `json:"market_cap"`
	Supported     bool                `json:"supported"`
}

// MarketCap is the latest market capitalization reported by the alternate vendor.
type MarketCap struct {
	Symbol       string          `json:"symbol"`
	VendorSymbol string          `json:"vendor_symbol"`
	Date         time.Time       `json:"date"`
	MarketCap    decimal.Decimal `json:"market_cap"`
}

// Earnings is the earnings date selected from the alternate vendor's calendar.
type Earnings struct {
	Symbol       string              `json:"symbol"`
	VendorSymbol string              `json:"vendor_symbol"`
	Date         time.Time           `json:"date"`
	EPSEstimated decimal.NullDecimal `json:"eps_estimated"`
}

// Profile is the primary vendor's company profile.
type Profile struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Exchange    string `json:"exchange"`
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	Country     string `json:"country"`
	Description string `json:"description"`
}

// SearchMatch is one result of the primary vendor's symbol search.
type SearchMatch struct {
	Symbol         string `json:"symbol"`
	InstrumentName string `json:"instrument_name"`
	Exchange       string `json:"exchange"`
	Country        string `json:"country"`
	Currency       string `json:"currency"`
	Type           string `json:"instrument_type"`
}

// Client is the contract shared by every vendor adapter: one symbol at a time,
// or many symbols with per-symbol outcomes.
type Client[T any] interface {
	Name() ID
	GetOne(ctx context.Context, symbol string) (T, error)
	GetMany(ctx context.Context, symbols []string) (map[string]T, map[string]error)
}

// QuoteProvider is a Client producing quotes.
type QuoteProvider = Client[Quote]
