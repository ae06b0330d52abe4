package fundamentals

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/symbols"
)

// Adapter serves identifying and fiscal metadata from Alpha Vantage. It never
// reports prices.
type Adapter struct {
	client   *alphavantage.Client
	resolver *symbols.Resolver
	log      *zap.Logger
	now      func() time.Time
}

func New(client *alphavantage.Client, resolver *symbols.Resolver, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if !client.Configured() {
		log.Warn("fundamentals vendor key missing; overviews are disabled", zap.String("vendor", string(provider.FundamentalsVendor)))
	}
	return &Adapter{client: client, resolver: resolver, log: log, now: time.Now}
}

func (a *Adapter) Name() provider.ID { return provider.FundamentalsVendor }

// GetOne returns the company overview. International symbols are not covered
// by the vendor and get a placeholder without a network call.
func (a *Adapter) GetOne(ctx context.Context, original string) (provider.Fundamentals, error) {
	if a.resolver.IsInternational(original) {
		return Placeholder(original, a.now()), nil
	}
	vendor := a.resolver.ToVendorSymbol(original)
	o, err := a.client.Overview(ctx, vendor)
	if err != nil {
		return provider.Fundamentals{}, err
	}
	f := provider.Fundamentals{
		Symbol:        original,
		VendorSymbol:  vendor,
		Name:          o.Name,
		Exchange:      o.Exchange,
		Currency:      o.Currency,
		Country:       o.Country,
		Sector:        o.Sector,
		Industry:      o.Industry,
		FiscalYearEnd: o.FiscalYearEnd,
		MarketCap:     o.MarketCapitalization.NullDecimal,
		Supported:     true,
	}
	if d, err := time.Parse(time.DateOnly, o.LatestQuarter); err == nil {
		f.LatestQuarter = d
	}
	return f, nil
}

func (a *Adapter) GetMany(ctx context.Context, originals []string) (map[string]provider.Fundamentals, map[string]error) {
	out := make(map[string]provider.Fundamentals, len(originals))
	errs := make(map[string]error)
	for _, s := range originals {
		f, err := a.GetOne(ctx, s)
		if err != nil {
			errs[s] = err
			continue
		}
		out[s] = f
	}
	return out, errs
}

// Placeholder is the record used for symbols the vendor does not cover:
// calendar fiscal year and the most recent calendar quarter end.
func Placeholder(original string, now time.Time) provider.Fundamentals {
	return provider.Fundamentals{
		Symbol:        original,
		FiscalYearEnd: "December",
		LatestQuarter: LastQuarterEnd(now),
		Supported:     false,
	}
}

// LastQuarterEnd returns the last calendar quarter end strictly before the
// quarter containing now.
func LastQuarterEnd(now time.Time) time.Time {
	now = now.UTC()
	q := (int(now.Month()) - 1) / 3
	start := time.Date(now.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	return start.AddDate(0, 0, -1)
}
