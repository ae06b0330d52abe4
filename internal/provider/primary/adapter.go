package primary

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/provider"
	"marketdata/internal/provider/twelvedata"
	"marketdata/internal/symbols"
)

// Adapter serves quotes and volume history from Twelve Data.
type Adapter struct {
	client   *twelvedata.Client
	resolver *symbols.Resolver
	log      *zap.Logger
	now      func() time.Time
}

func New(client *twelvedata.Client, resolver *symbols.Resolver, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if !client.Configured() {
		log.Warn("primary vendor key missing; quotes and volume are disabled", zap.String("vendor", string(provider.Primary)))
	}
	return &Adapter{client: client, resolver: resolver, log: log, now: time.Now}
}

func (a *Adapter) Name() provider.ID { return provider.Primary }

// GetOne fetches one symbol through the fallback chain quote -> price ->
// daily series. When every step fails the first error is returned.
func (a *Adapter) GetOne(ctx context.Context, original string) (provider.Quote, error) {
	vendor := a.resolver.ToVendorSymbol(original)

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	steps := []func(context.Context, string) (provider.Quote, error){
		a.fromQuote,
		a.fromPrice,
		a.fromDailySeries,
	}
	for _, step := range steps {
		q, err := step(ctx, vendor)
		if err == nil && !q.HasPrice() {
			err = &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: vendor, Reason: "missing price"}
		}
		if err == nil {
			q.OriginalSymbol = original
			q.VendorSymbol = vendor
			return a.resolver.Normalize(original, q), nil
		}
		fail(err)

		var ce *provider.ConfigurationError
		if errors.As(err, &ce) || ctx.Err() != nil {
			break
		}
	}
	return provider.Quote{}, firstErr
}

func (a *Adapter) fromQuote(ctx context.Context, vendor string) (provider.Quote, error) {
	qd, err := a.client.Quote(ctx, vendor)
	if err != nil {
		return provider.Quote{}, err
	}
	return a.toQuote(qd, provider.SourceRESTQuote), nil
}

func (a *Adapter) fromPrice(ctx context.Context, vendor string) (provider.Quote, error) {
	p, err := a.client.Price(ctx, vendor)
	if err != nil {
		return provider.Quote{}, err
	}
	return provider.Quote{
		Price:       p.Price.NullDecimal,
		LastUpdated: a.now(),
		Source:      provider.SourceRESTPrice,
		IsIntraday:  true,
	}, nil
}

// fromDailySeries builds an end-of-day quote from the two latest daily bars.
func (a *Adapter) fromDailySeries(ctx context.Context, vendor string) (provider.Quote, error) {
	results, err := a.client.DailySeries(ctx, []string{vendor}, 2)
	if err != nil {
		return provider.Quote{}, err
	}
	if len(results) == 0 {
		return provider.Quote{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: vendor, Reason: "empty series"}
	}
	r := results[0]
	if r.Err != nil {
		return provider.Quote{}, r.Err
	}
	bars := r.Series.Values
	latest := bars[0]
	q := provider.Quote{
		Price:       latest.Close.NullDecimal,
		Volume:      latest.Volume.NullDecimal,
		High:        latest.High.NullDecimal,
		Low:         latest.Low.NullDecimal,
		Open:        latest.Open.NullDecimal,
		LastUpdated: a.now(),
		Source:      provider.SourceRESTQuote,
		IsIntraday:  false,
	}
	if len(bars) > 1 && bars[1].Close.Valid && latest.Close.Valid {
		prev := bars[1].Close.Decimal
		q.PreviousClose = bars[1].Close.NullDecimal
		change := latest.Close.Decimal.Sub(prev)
		q.Change = provider.NumberOf(change).NullDecimal
		if !prev.IsZero() {
			q.ChangePercent = provider.NumberOf(change.Div(prev).Shift(2)).NullDecimal
		}
	}
	return q, nil
}

func (a *Adapter) toQuote(qd twelvedata.QuoteData, source provider.Source) provider.Quote {
	return provider.Quote{
		VendorSymbol:  qd.Symbol,
		Price:         qd.Close.NullDecimal,
		Change:        qd.Change.NullDecimal,
		ChangePercent: qd.PercentChange.NullDecimal,
		Volume:        qd.Volume.NullDecimal,
		PreviousClose: qd.PreviousClose.NullDecimal,
		High:          qd.High.NullDecimal,
		Low:           qd.Low.NullDecimal,
		Open:          qd.Open.NullDecimal,
		LastUpdated:   a.now(),
		Source:        source,
		IsIntraday:    true,
	}
}

// GetMany fetches symbols one at a time through GetOne.
func (a *Adapter) GetMany(ctx context.Context, originals []string) (map[string]provider.Quote, map[string]error) {
	quotes := make(map[string]provider.Quote, len(originals))
	errs := make(map[string]error)
	for _, s := range originals {
		q, err := a.GetOne(ctx, s)
		if err != nil {
			errs[s] = err
			continue
		}
		quotes[s] = q
	}
	return quotes, errs
}

// AggregateQuotes issues one /quote request for vendorSymbols. Entries are
// neither normalized nor attributed to an original symbol.
func (a *Adapter) AggregateQuotes(ctx context.Context, vendorSymbols []string) ([]provider.Entry, error) {
	results, err := a.client.Quotes(ctx, vendorSymbols)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Entry, 0, len(results))
	for _, r := range results {
		e := provider.Entry{VendorSymbol: r.Symbol, Err: r.Err}
		if r.Err == nil {
			e.Quote = a.toQuote(r.Quote, provider.SourceRESTBatch)
			e.Quote.VendorSymbol = r.Symbol
		}
		out = append(out, e)
	}
	return out, nil
}

// AggregateVolumes issues one /time_series request for vendorSymbols.
func (a *Adapter) AggregateVolumes(ctx context.Context, vendorSymbols []string, days int) ([]provider.VolumeEntry, error) {
	results, err := a.client.DailySeries(ctx, vendorSymbols, days)
	if err != nil {
		return nil, err
	}
	out := make([]provider.VolumeEntry, 0, len(results))
	for _, r := range results {
		e := provider.VolumeEntry{VendorSymbol: r.Symbol, Err: r.Err}
		if r.Err == nil {
			e.Bars, e.Err = toBars(r.Symbol, r.Series)
		}
		out = append(out, e)
	}
	return out, nil
}

// DailyVolume fetches the daily volume history of one symbol.
func (a *Adapter) DailyVolume(ctx context.Context, original string, days int) (provider.VolumeSummary, error) {
	vendor := a.resolver.ToVendorSymbol(original)
	entries, err := a.AggregateVolumes(ctx, []string{vendor}, days)
	if err != nil {
		return provider.VolumeSummary{}, err
	}
	if len(entries) == 0 {
		return provider.VolumeSummary{}, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: vendor, Reason: "empty series"}
	}
	if entries[0].Err != nil {
		return provider.VolumeSummary{}, entries[0].Err
	}
	return provider.SummarizeVolume(original, vendor, days, entries[0].Bars), nil
}

func toBars(symbol string, s twelvedata.Series) ([]provider.VolumeBar, error) {
	bars := make([]provider.VolumeBar, 0, len(s.Values))
	for _, v := range s.Values {
		if !v.Volume.Valid {
			continue
		}
		d, err := parseBarDate(v.Datetime)
		if err != nil {
			return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: err.Error()}
		}
		bars = append(bars, provider.VolumeBar{Date: d, Volume: v.Volume.Decimal})
	}
	if len(bars) == 0 {
		return nil, &provider.DataUnavailableError{Vendor: provider.Primary, Symbol: symbol, Reason: "no volume"}
	}
	return bars, nil
}

func parseBarDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	return time.Parse(time.DateTime, s)
}

func (a *Adapter) Profile(ctx context.Context, original string) (provider.Profile, error) {
	p, err := a.client.Profile(ctx, a.resolver.ToVendorSymbol(original))
	if err != nil {
		return provider.Profile{}, err
	}
	return provider.Profile{
		Symbol:      original,
		Name:        p.Name,
		Exchange:    p.Exchange,
		Sector:      p.Sector,
		Industry:    p.Industry,
		Country:     p.Country,
		Description: p.Description,
	}, nil
}

func (a *Adapter) Search(ctx context.Context, query string) ([]provider.SearchMatch, error) {
	matches, err := a.client.SymbolSearch(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]provider.SearchMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, provider.SearchMatch{
			Symbol:         m.Symbol,
			InstrumentName: m.InstrumentName,
			Exchange:       m.Exchange,
			Country:        m.Country,
			Currency:       m.Currency,
			Type:           m.InstrumentType,
		})
	}
	return out, nil
}
