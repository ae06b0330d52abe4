package twelvedata

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"marketdata/internal/provider"
)

// envelope covers the three error shapes the API returns with status 200:
//
//	{"error": "..."}
//	{"note": "You have run out of API credits ..."}
//	{"code": 400, "message": "...", "status": "error"}
type envelope struct {
	Error   *string `json:"error"`
	Note    *string `json:"note"`
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Status  string  `json:"status"`
}

// checkEnvelope returns the vendor error carried by raw, if any. All three
// shapes are checked before a payload is treated as data.
func checkEnvelope(raw json.RawMessage, symbol string) error {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		// not an object; the caller decides whether that is usable
		return nil
	}
	switch {
	case e.Error != nil:
		return &provider.ProviderError{Vendor: provider.Primary, Symbol: symbol, Message: *e.Error}
	case e.Note != nil:
		return &provider.ProviderError{Vendor: provider.Primary, Symbol: symbol, Message: *e.Note, RateLimited: true}
	case e.Code != 0 && (e.Message != "" || e.Status == "error"):
		return &provider.ProviderError{
			Vendor:      provider.Primary,
			Symbol:      symbol,
			Code:        e.Code,
			Message:     e.Message,
			RateLimited: e.Code == 429 || strings.Contains(strings.ToLower(e.Message), "api credits"),
		}
	case e.Status == "error":
		return &provider.ProviderError{Vendor: provider.Primary, Symbol: symbol, Message: e.Message}
	}
	return nil
}

// rawEntry is one per-symbol element of a response, before typed decoding.
type rawEntry struct {
	Symbol string
	Raw    json.RawMessage
	Err    error
}

type symbolProbe struct {
	Symbol string `json:"symbol"`
	Meta   *struct {
		Symbol string `json:"symbol"`
	} `json:"meta"`
}

func (p symbolProbe) symbol() string {
	if p.Symbol != "" {
		return p.Symbol
	}
	if p.Meta != nil {
		return p.Meta.Symbol
	}
	return ""
}

// splitEntries normalizes the three response shapes into a list of entries:
// an array of objects, a single object, or an object keyed by symbol.
// A top-level error envelope is returned as the error.
func splitEntries(body []byte, requested []string) ([]rawEntry, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: strings.Join(requested, ","), Reason: "empty response"}
	}

	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: strings.Join(requested, ","), Reason: err.Error()}
		}
		out := make([]rawEntry, 0, len(items))
		for i, item := range items {
			var p symbolProbe
			_ = json.Unmarshal(item, &p)
			sym := matchRequested(p.symbol(), requested)
			if sym == "" && len(items) == len(requested) {
				sym = requested[i]
			}
			out = append(out, rawEntry{Symbol: sym, Raw: item, Err: checkEnvelope(item, sym)})
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: strings.Join(requested, ","), Reason: err.Error()}
	}

	if keyed(obj, requested) {
		out := make([]rawEntry, 0, len(obj))
		for _, sym := range requested {
			item, ok := obj[sym]
			if !ok {
				continue
			}
			out = append(out, rawEntry{Symbol: sym, Raw: item, Err: checkEnvelope(item, sym)})
		}
		return out, nil
	}

	single := ""
	if len(requested) == 1 {
		single = requested[0]
	}
	if err := checkEnvelope(body, single); err != nil {
		return nil, err
	}
	var p symbolProbe
	_ = json.Unmarshal(body, &p)
	if single == "" {
		single = matchRequested(p.symbol(), requested)
	}
	if single == "" {
		return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: strings.Join(requested, ","), Reason: "unrecognized response shape"}
	}
	return []rawEntry{{Symbol: single, Raw: body}}, nil
}

// matchRequested maps a symbol echoed by the vendor back to the requested
// form. Exchange-qualified requests ("NESN:SIX") are echoed without the tag.
func matchRequested(sym string, requested []string) string {
	if sym == "" || slices.Contains(requested, sym) {
		return sym
	}
	var hit string
	for _, r := range requested {
		if strings.HasPrefix(r, sym+":") {
			if hit != "" {
				return sym
			}
			hit = r
		}
	}
	if hit != "" {
		return hit
	}
	return sym
}

// keyed reports whether obj is a symbol-keyed map of per-symbol objects.
func keyed(obj map[string]json.RawMessage, requested []string) bool {
	if _, ok := obj["symbol"]; ok && len(requested) > 1 {
		return false
	}
	if _, ok := obj["meta"]; ok {
		return false
	}
	for _, sym := range requested {
		if v, ok := obj[sym]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '{' {
			return true
		}
	}
	return false
}
