package symbols

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketdata/internal/provider"
)

var hundred = decimal.NewFromInt(100)

// Resolver maps user-entered "TICKER SUFFIX" symbols onto vendor formats and
// decides which vendor owns each symbol. It is safe for concurrent use.
type Resolver struct {
	tables    Tables
	alternate map[string]struct{}
	domestic  map[string]struct{}
	log       *zap.Logger
}

func NewResolver(tables Tables, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		tables:    tables,
		alternate: make(map[string]struct{}, len(tables.AlternateMarkets)),
		domestic:  make(map[string]struct{}, len(tables.DomesticSuffixes)),
		log:       log,
	}
	for _, s := range tables.AlternateMarkets {
		r.alternate[strings.ToUpper(s)] = struct{}{}
	}
	for _, s := range tables.DomesticSuffixes {
		r.domestic[strings.ToUpper(s)] = struct{}{}
	}
	return r
}

// Clean uppercases the symbol and collapses runs of whitespace.
func Clean(original string) string {
	return strings.Join(strings.Fields(strings.ToUpper(original)), " ")
}

// split returns the ticker and exchange suffix of a two-part symbol.
func split(original string) (ticker, suffix string, ok bool) {
	parts := strings.Fields(strings.ToUpper(original))
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ToVendorSymbol converts a symbol into the primary vendor's format,
// e.g. "RKT LN" -> "RKT:LSE". Symbols without a suffix pass through uppercased.
func (r *Resolver) ToVendorSymbol(original string) string {
	cleaned := Clean(original)
	ticker, suffix, ok := split(cleaned)
	if !ok {
		return cleaned
	}
	tag, known := r.tables.Exchanges[suffix]
	if !known {
		r.log.Warn("unknown exchange suffix", zap.String("symbol", cleaned), zap.String("suffix", suffix))
		return cleaned
	}
	if tag == "" {
		return ticker
	}
	return ticker + ":" + tag
}

// OwnerOf reports which vendor serves quotes for the symbol.
func (r *Resolver) OwnerOf(original string) provider.ID {
	if _, suffix, ok := split(original); ok {
		if _, alt := r.alternate[suffix]; alt {
			return provider.Alternate
		}
	}
	return provider.Primary
}

// AlternateCandidates lists the spellings to try against the alternate
// vendor, in priority order. The bare ticker is always last.
func (r *Resolver) AlternateCandidates(original string) []string {
	ticker, suffix, ok := split(original)
	if !ok {
		return []string{Clean(original)}
	}
	out := make([]string, 0, 3)
	for _, sp := range r.tables.AlternateSpellings[suffix] {
		t := ticker
		if sp.PadDigits > 0 && isDigits(t) && len(t) < sp.PadDigits {
			t = strings.Repeat("0", sp.PadDigits-len(t)) + t
		}
		if c := t + sp.Suffix; !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	if !slices.Contains(out, ticker) {
		out = append(out, ticker)
	}
	return out
}

// IsInternational reports whether the symbol trades outside the domestic
// market covered by the fundamentals vendor.
func (r *Resolver) IsInternational(original string) bool {
	_, suffix, ok := split(original)
	if !ok {
		return false
	}
	_, domestic := r.domestic[suffix]
	return !domestic
}

// UsesMinorUnits reports whether primary vendor prices for the symbol are
// quoted in minor units. The match is a substring test on the original ticker.
func (r *Resolver) UsesMinorUnits(original string) bool {
	upper := strings.ToUpper(original)
	for _, m := range r.tables.MinorUnitMarkers {
		if m != "" && strings.Contains(upper, strings.ToUpper(m)) {
			return true
		}
	}
	return false
}

// Normalize divides every price-bearing field by 100 for minor-unit symbols.
// Volume and percentages are left alone.
func (r *Resolver) Normalize(original string, q provider.Quote) provider.Quote {
	if !r.UsesMinorUnits(original) {
		return q
	}
	for _, f := range []*decimal.NullDecimal{&q.Price, &q.Change, &q.PreviousClose, &q.High, &q.Low, &q.Open} {
		if f.Valid {
			f.Decimal = f.Decimal.Div(hundred)
		}
	}
	return q
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
