package alternate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/provider"
	"marketdata/internal/provider/fmp"
	"marketdata/internal/symbols"
)

// Adapter serves markets the primary vendor covers poorly, plus market
// capitalization and earnings dates, from Financial Modeling Prep.
type Adapter struct {
	client   *fmp.Client
	resolver *symbols.Resolver
	log      *zap.Logger
	now      func() time.Time

	// chosen remembers the candidate spelling that last returned a price.
	mu     sync.RWMutex
	chosen map[string]string
}

func New(client *fmp.Client, resolver *symbols.Resolver, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if !client.Configured() {
		log.Warn("alternate vendor key missing; its markets are disabled", zap.String("vendor", string(provider.Alternate)))
	}
	return &Adapter{client: client, resolver: resolver, log: log, now: time.Now, chosen: map[string]string{}}
}

func (a *Adapter) Name() provider.ID { return provider.Alternate }

// candidates returns the spellings to try, the remembered one first.
func (a *Adapter) candidates(original string) []string {
	all := a.resolver.AlternateCandidates(original)
	a.mu.RLock()
	c, ok := a.chosen[original]
	a.mu.RUnlock()
	if !ok {
		return all
	}
	out := []string{c}
	for _, s := range all {
		if s != c {
			out = append(out, s)
		}
	}
	return out
}

func (a *Adapter) remember(original, candidate string) {
	a.mu.Lock()
	a.chosen[original] = candidate
	a.mu.Unlock()
}

// GetOne tries each candidate spelling in order and stops at the first whose
// payload carries a usable price. When none does, the first error is returned.
func (a *Adapter) GetOne(ctx context.Context, original string) (provider.Quote, error) {
	if !a.client.Configured() {
		return provider.Quote{}, provider.NotConfigured(provider.Alternate)
	}
	var firstErr error
	for _, candidate := range a.candidates(original) {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		qd, err := a.client.Quote(ctx, candidate)
		if err == nil && !(qd.Price.Valid && qd.Price.Decimal.IsPositive()) {
			err = &provider.DataUnavailableError{Vendor: provider.Alternate, Symbol: candidate, Reason: "missing price"}
		}
		if err != nil {
			a.log.Debug("alternate candidate failed", zap.String("symbol", original), zap.String("candidate", candidate), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.remember(original, candidate)
		return provider.Quote{
			OriginalSymbol: original,
			VendorSymbol:   candidate,
			Price:          qd.Price.NullDecimal,
			Change:         qd.Change.NullDecimal,
			ChangePercent:  qd.ChangesPercentage.NullDecimal,
			Volume:         qd.Volume.NullDecimal,
			PreviousClose:  qd.PreviousClose.NullDecimal,
			High:           qd.DayHigh.NullDecimal,
			Low:            qd.DayLow.NullDecimal,
			Open:           qd.Open.NullDecimal,
			LastUpdated:    a.now(),
			Source:         provider.SourceRESTQuote,
			IsIntraday:     true,
		}, nil
	}
	return provider.Quote{}, firstErr
}

// GetMany fetches symbols sequentially; the vendor has no aggregate endpoint
// for these markets.
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

// lookupSymbols lists the spellings for non-price lookups. Primary-owned
// symbols use their bare ticker.
func (a *Adapter) lookupSymbols(original string) []string {
	if a.resolver.OwnerOf(original) == provider.Alternate {
		return a.candidates(original)
	}
	all := a.resolver.AlternateCandidates(original)
	return all[len(all)-1:]
}

// MarketCap returns the latest market capitalization.
func (a *Adapter) MarketCap(ctx context.Context, original string) (provider.MarketCap, error) {
	if !a.client.Configured() {
		return provider.MarketCap{}, provider.NotConfigured(provider.Alternate)
	}
	var firstErr error
	for _, candidate := range a.lookupSymbols(original) {
		mc, err := a.client.MarketCap(ctx, candidate)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out := provider.MarketCap{Symbol: original, VendorSymbol: candidate, MarketCap: mc.MarketCap.Decimal}
		if d, err := time.Parse(time.DateOnly, mc.Date); err == nil {
			out.Date = d
		}
		return out, nil
	}
	return provider.MarketCap{}, firstErr
}

// NextEarnings returns the last entry of the earnings calendar.
func (a *Adapter) NextEarnings(ctx context.Context, original string) (provider.Earnings, error) {
	if !a.client.Configured() {
		return provider.Earnings{}, provider.NotConfigured(provider.Alternate)
	}
	var firstErr error
	for _, candidate := range a.lookupSymbols(original) {
		e, err := a.client.NextEarnings(ctx, candidate)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return provider.Earnings{Symbol: original, VendorSymbol: candidate, Date: e.Date, EPSEstimated: e.EPSEstimated}, nil
	}
	return provider.Earnings{}, firstErr
}
