package api

import (
	"marketdata/internal/batch"
	"marketdata/internal/provider"
)

// Res is the envelope of every JSON response.
type Res struct {
	Success bool `json:"success"`
	Error   any  `json:"error"`
	Data    any  `json:"data"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type SymbolQuery struct {
	Symbol string `form:"symbol" binding:"required,max=32"`
}

type VolumeQuery struct {
	Symbol string `form:"symbol" binding:"required,max=32"`
	Days   int    `form:"days" binding:"omitempty,min=1,max=365"`
}

type SearchQuery struct {
	Q string `form:"q" binding:"required,min=1,max=64"`
}

type SymbolsReq struct {
	Symbols []string `json:"symbols" binding:"required,min=1,max=1000,dive,required,max=32"`
}

type VolumesReq struct {
	Symbols []string `json:"symbols" binding:"required,min=1,max=1000,dive,required,max=32"`
	Days    int      `json:"days" binding:"omitempty,min=1,max=365"`
}

// SubscriptionsReq allows an empty list, which clears the universe.
type SubscriptionsReq struct {
	Symbols []string `json:"symbols" binding:"max=5000,dive,required,max=32"`
}

type QuotesRes struct {
	Quotes map[string]provider.Quote `json:"quotes"`
	Errors map[string]string         `json:"errors"`
}

type SubscriptionsRes struct {
	Symbols   []string   `json:"symbols"`
	Refreshed *QuotesRes `json:"refreshed,omitempty"`
}

type VolumesRes struct {
	Volumes map[string]provider.VolumeSummary `json:"volumes"`
	Errors  map[string]string                 `json:"errors"`
}

func errorStrings(in map[string]error) map[string]string {
	out := make(map[string]string, len(in))
	for k, err := range in {
		out[k] = err.Error()
	}
	return out
}

func quotesRes(r batch.QuoteResult) QuotesRes {
	return QuotesRes{Quotes: r.Quotes, Errors: errorStrings(r.Errors)}
}

func volumesRes(r batch.VolumeResult) VolumesRes {
	return VolumesRes{Volumes: r.Volumes, Errors: errorStrings(r.Errors)}
}
