package market

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"marketdata/internal/batch"
	"marketdata/internal/events"
	"marketdata/internal/provider"
	"marketdata/internal/quotecache"
	"marketdata/internal/symbols"
)

// DefaultFallbackTimeout bounds lookups that must not block interactive flows.
const DefaultFallbackTimeout = 1500 * time.Millisecond

// DefaultFetchTimeout bounds one shared single-symbol fetch.
const DefaultFetchTimeout = 30 * time.Second

// Primary is the realtime-quote vendor.
type Primary interface {
	batch.Primary
	Profile(ctx context.Context, original string) (provider.Profile, error)
	Search(ctx context.Context, query string) ([]provider.SearchMatch, error)
}

// Alternate is the vendor for poorly covered markets, market cap and earnings.
type Alternate interface {
	GetOne(ctx context.Context, original string) (provider.Quote, error)
	MarketCap(ctx context.Context, original string) (provider.MarketCap, error)
	NextEarnings(ctx context.Context, original string) (provider.Earnings, error)
}

// Subscriber keeps the push feed in line with the universe.
type Subscriber interface {
	UpdateSubscriptions(ctx context.Context, originals []string) error
}

// Poller refreshes alternate-owned symbols outside the push feed.
type Poller interface {
	SetUniverse(originals []string)
}

type Deps struct {
	Resolver     *symbols.Resolver
	Primary      Primary
	Alternate    Alternate
	Fundamentals provider.Client[provider.Fundamentals]
	Cache        *quotecache.Cache
	Hub          *events.Hub
	Batch        batch.Config
	Subscriber   Subscriber
	Poller       Poller
	// FallbackTimeout defaults to DefaultFallbackTimeout.
	FallbackTimeout time.Duration
	// FetchTimeout bounds a shared single-symbol fetch; defaults to
	// DefaultFetchTimeout.
	FetchTimeout    time.Duration
	Log             *zap.Logger
}

// Service is the upward interface of the market-data core. Every write lands
// in the shared quote cache, whose accepted writes are published on the hub.
type Service struct {
	resolver     *symbols.Resolver
	primary      Primary
	alternate    Alternate
	fundamentals provider.Client[provider.Fundamentals]
	cache        *quotecache.Cache
	hub          *events.Hub
	orch         *batch.Orchestrator
	subscriber   Subscriber
	poller       Poller
	fallback     time.Duration
	log          *zap.Logger

	flightTimeout time.Duration

	sf singleflight.Group

	mu       sync.RWMutex
	universe []string
}

func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Cache == nil {
		d.Cache = quotecache.New()
	}
	if d.Hub == nil {
		d.Hub = events.NewHub()
	}
	if d.FallbackTimeout <= 0 {
		d.FallbackTimeout = DefaultFallbackTimeout
	}
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = DefaultFetchTimeout
	}
	s := &Service{
		resolver:     d.Resolver,
		primary:      d.Primary,
		alternate:    d.Alternate,
		fundamentals: d.Fundamentals,
		cache:        d.Cache,
		hub:          d.Hub,
		orch:         batch.New(d.Batch, d.Resolver, d.Primary, d.Alternate, d.Cache, d.Log),
		subscriber:   d.Subscriber,
		poller:       d.Poller,
		fallback:     d.FallbackTimeout,
		log:          d.Log,

		flightTimeout: d.FetchTimeout,
	}
	hub := d.Hub
	d.Cache.OnWrite(func(r quotecache.Record) {
		hub.Prices.Publish(events.PriceUpdate{Quote: r.Quote, Seq: r.Seq})
	})
	return s
}

func (s *Service) Hub() *events.Hub { return s.hub }

func (s *Service) Cache() *quotecache.Cache { return s.cache }

// SetSubscriber attaches the stream reconciler after construction.
func (s *Service) SetSubscriber(sub Subscriber) {
	s.mu.Lock()
	s.subscriber = sub
	s.mu.Unlock()
}

// GetQuote fetches one symbol from its owning vendor. Concurrent calls for
// the same symbol share one upstream request. The shared request is detached
// from any single caller, so a caller that gives up returns its own context
// error without failing the others.
func (s *Service) GetQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	symbol = symbols.Clean(symbol)
	if symbol == "" {
		return provider.Quote{}, &provider.DataUnavailableError{Symbol: symbol, Reason: "empty symbol"}
	}
	ch := s.sf.DoChan(symbol, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout)
		defer cancel()
		return s.fetchOne(fctx, symbol)
	})
	select {
	case <-ctx.Done():
		return provider.Quote{}, context.Cause(ctx)
	case r := <-ch:
		if r.Err != nil {
			return provider.Quote{}, r.Err
		}
		return r.Val.(provider.Quote), nil
	}
}

func (s *Service) fetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	var (
		q   provider.Quote
		err error
	)
	if s.resolver.OwnerOf(symbol) == provider.Alternate {
		q, err = s.alternate.GetOne(ctx, symbol)
	} else {
		q, err = s.primary.GetOne(ctx, symbol)
	}
	if err != nil {
		s.cache.PutError(ctx, symbol, err)
		return provider.Quote{}, err
	}
	s.cache.Put(ctx, q)
	return q, nil
}

func (s *Service) GetBatchQuotes(ctx context.Context, syms []string) batch.QuoteResult {
	return s.orch.Quotes(ctx, cleanAll(syms))
}

func (s *Service) GetDailyVolumeData(ctx context.Context, symbol string, days int) (provider.VolumeSummary, error) {
	return s.primary.DailyVolume(ctx, symbols.Clean(symbol), days)
}

func (s *Service) GetBatchDailyVolumeData(ctx context.Context, syms []string, days int) batch.VolumeResult {
	return s.orch.Volumes(ctx, cleanAll(syms), days)
}

// RefreshUniverse refreshes every tracked symbol with the full-refresh chunk size.
func (s *Service) RefreshUniverse(ctx context.Context) batch.QuoteResult {
	return s.orch.Refresh(ctx, s.Universe())
}

// RefreshIncremental tops up the given symbols one by one in a small window.
func (s *Service) RefreshIncremental(ctx context.Context, syms []string) batch.QuoteResult {
	return s.orch.Incremental(ctx, cleanAll(syms))
}

// UpdateSubscriptions replaces the ticker universe, hands the alternate-owned
// part to the poller and the rest to the push feed.
func (s *Service) UpdateSubscriptions(ctx context.Context, syms []string) error {
	universe := cleanAll(syms)
	s.mu.Lock()
	s.universe = universe
	sub := s.subscriber
	s.mu.Unlock()

	if s.poller != nil {
		s.poller.SetUniverse(universe)
	}
	if sub == nil {
		return nil
	}
	return sub.UpdateSubscriptions(ctx, universe)
}

func (s *Service) Universe() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.universe)
}

func (s *Service) Snapshot() quotecache.Snapshot {
	return s.cache.Snapshot()
}

func (s *Service) GetFundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	if s.fundamentals == nil {
		return provider.Fundamentals{}, provider.NotConfigured(provider.FundamentalsVendor)
	}
	return s.fundamentals.GetOne(ctx, symbols.Clean(symbol))
}

func (s *Service) GetMarketCap(ctx context.Context, symbol string) (provider.MarketCap, error) {
	return s.alternate.MarketCap(ctx, symbols.Clean(symbol))
}

func (s *Service) GetNextEarnings(ctx context.Context, symbol string) (provider.Earnings, error) {
	return s.alternate.NextEarnings(ctx, symbols.Clean(symbol))
}

func (s *Service) GetProfile(ctx context.Context, symbol string) (provider.Profile, error) {
	return s.primary.Profile(ctx, symbols.Clean(symbol))
}

func (s *Service) SearchSymbols(ctx context.Context, query string) ([]provider.SearchMatch, error) {
	if query == "" {
		return nil, errors.New("empty search query")
	}
	return s.primary.Search(ctx, query)
}

// Overview bundles the slow per-symbol lookups. Each part is bounded by the
// fallback timeout and is nil when it failed or timed out.
type Overview struct {
	Symbol       string                 `json:"symbol"`
	Fundamentals *provider.Fundamentals `json:"fundamentals"`
	MarketCap    *provider.MarketCap    `json:"market_cap"`
	NextEarnings *provider.Earnings     `json:"next_earnings"`
}

func (s *Service) GetOverview(ctx context.Context, symbol string) Overview {
	symbol = symbols.Clean(symbol)
	out := Overview{Symbol: symbol}

	var g errgroup.Group
	g.Go(func() error {
		out.Fundamentals = WithFallback(ctx, s.fallback, func(ctx context.Context) (*provider.Fundamentals, error) {
			f, err := s.GetFundamentals(ctx, symbol)
			return &f, err
		}, nil)
		return nil
	})
	g.Go(func() error {
		out.MarketCap = WithFallback(ctx, s.fallback, func(ctx context.Context) (*provider.MarketCap, error) {
			m, err := s.GetMarketCap(ctx, symbol)
			return &m, err
		}, nil)
		return nil
	})
	g.Go(func() error {
		out.NextEarnings = WithFallback(ctx, s.fallback, func(ctx context.Context) (*provider.Earnings, error) {
			e, err := s.GetNextEarnings(ctx, symbol)
			return &e, err
		}, nil)
		return nil
	})
	_ = g.Wait()
	return out
}

func cleanAll(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		c := symbols.Clean(s)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
