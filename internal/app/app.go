// Package app assembles the vendor clients, the market-data core and its
// streaming side from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/batch"
	"marketdata/internal/config"
	"marketdata/internal/events"
	"marketdata/internal/httpx"
	"marketdata/internal/market"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/alternate"
	"marketdata/internal/provider/cache"
	"marketdata/internal/provider/fmp"
	"marketdata/internal/provider/fundamentals"
	"marketdata/internal/provider/primary"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/twelvedata"
	"marketdata/internal/quotecache"
	"marketdata/internal/stream"
	"marketdata/internal/stream/wsfeed"
	"marketdata/internal/symbols"
)

const fundamentalsCacheItems = 5000

// App is the wired object graph. Feed and Poller are nil when streaming is
// disabled.
type App struct {
	Config     config.Config
	Resolver   *symbols.Resolver
	Service    *market.Service
	Reconciler *stream.Reconciler
	Feed       *wsfeed.Feed
	Poller     *stream.Poller
	Log        *zap.Logger
}

// Vendors are the three adapters built from configuration.
type Vendors struct {
	Primary      *primary.Adapter
	Alternate    *alternate.Adapter
	Fundamentals provider.Client[provider.Fundamentals]
}

func limited(base *httpx.Client, v config.Vendor) ratelimit.HTTPClient {
	return ratelimit.Wrap(base, v.MaxRequestsPerMinute, v.Burst, v.MinInterval())
}

// NewVendors builds each vendor client behind its own rate limiter. A vendor
// without an API key is still built; its calls fail with a ConfigurationError.
func NewVendors(cfg config.Config, resolver *symbols.Resolver, log *zap.Logger) (Vendors, error) {
	base := httpx.New(cfg.RequestTimeout())

	if cfg.TwelveData.APIKey == "" {
		log.Warn("twelvedata api key not set; primary vendor disabled")
	}
	td, err := twelvedata.NewClient(cfg.TwelveData.APIKey,
		twelvedata.WithBaseURL(cfg.TwelveData.BaseURL),
		twelvedata.WithHTTPClient(limited(base, cfg.TwelveData.Vendor)),
	)
	if err != nil {
		return Vendors{}, fmt.Errorf("twelvedata client: %w", err)
	}

	if cfg.FMP.APIKey == "" {
		log.Warn("fmp api key not set; alternate markets disabled")
	}
	fm, err := fmp.NewClient(cfg.FMP.APIKey,
		fmp.WithBaseURL(cfg.FMP.BaseURL),
		fmp.WithHTTPClient(limited(base, cfg.FMP)),
	)
	if err != nil {
		return Vendors{}, fmt.Errorf("fmp client: %w", err)
	}

	av, err := alphavantage.NewClient(cfg.AlphaVantage.APIKey,
		alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL),
		alphavantage.WithHTTPClient(limited(base, cfg.AlphaVantage)),
	)
	if err != nil {
		return Vendors{}, fmt.Errorf("alphavantage client: %w", err)
	}

	var fund provider.Client[provider.Fundamentals] = fundamentals.New(av, resolver, log)
	if ttl := cfg.AlphaVantage.CacheTTL(); ttl > 0 {
		fund = cache.New(fund, ttl, fundamentalsCacheItems)
	}

	return Vendors{
		Primary:      primary.New(td, resolver, log),
		Alternate:    alternate.New(fm, resolver, log),
		Fundamentals: fund,
	}, nil
}

// New wires the core. Nothing is started; see Run.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	tables, err := symbols.LoadTables(cfg.Symbols.TablesFile)
	if err != nil {
		return nil, err
	}
	resolver := symbols.NewResolver(tables, log)

	vendors, err := NewVendors(cfg, resolver, log)
	if err != nil {
		return nil, err
	}

	store := quotecache.New()
	hub := events.NewHub()
	a := &App{Config: cfg, Resolver: resolver, Log: log}

	deps := market.Deps{
		Resolver:     resolver,
		Primary:      vendors.Primary,
		Alternate:    vendors.Alternate,
		Fundamentals: vendors.Fundamentals,
		Cache:        store,
		Hub:          hub,
		Batch: batch.Config{
			QuoteChunkSize:    cfg.Batch.QuoteChunkSize,
			VolumeChunkSize:   cfg.Batch.VolumeChunkSize,
			RefreshChunkSize:  cfg.Batch.RefreshChunkSize,
			InterChunkDelay:   time.Duration(cfg.Batch.InterChunkDelayMs) * time.Millisecond,
			RetryConcurrency:  cfg.Batch.RetryConcurrency,
			IncrementalWindow: cfg.Batch.IncrementalWindow,
		},
		Log: log,
	}

	if cfg.Stream.Enabled {
		a.Poller = stream.NewPoller(resolver, vendors.Alternate, store,
			time.Duration(cfg.Stream.PollIntervalSec)*time.Second,
			time.Duration(cfg.Stream.PollDelayMs)*time.Millisecond,
			log.Named("poller"))
		deps.Poller = a.Poller
	}

	a.Service = market.New(deps)

	if cfg.Stream.Enabled {
		a.Reconciler = stream.NewReconciler(resolver, nil, store, hub, log.Named("stream"))
		a.Feed = wsfeed.New(cfg.TwelveData.APIKey, a.Reconciler, log.Named("wsfeed"),
			wsfeed.WithURL(cfg.TwelveData.WSURL),
			wsfeed.WithReconnectDelay(time.Duration(cfg.Stream.ReconnectSec)*time.Second),
		)
		a.Reconciler.SetTransport(a.Feed)
		a.Service.SetSubscriber(a.Reconciler)
	}
	return a, nil
}

// Run starts the streaming side, installs the configured universe and
// performs the first full refresh. It returns once the refresh is done;
// the feed and poller keep running until ctx ends.
func (a *App) Run(ctx context.Context) {
	if a.Feed != nil {
		go func() {
			if err := a.Feed.Run(ctx); err != nil && ctx.Err() == nil {
				a.Log.Warn("websocket feed stopped", zap.Error(err))
			}
		}()
	}
	if a.Poller != nil {
		go a.Poller.Run(ctx)
	}

	if len(a.Config.Symbols.Universe) == 0 {
		return
	}
	if err := a.Service.UpdateSubscriptions(ctx, a.Config.Symbols.Universe); err != nil {
		a.Log.Warn("initial subscriptions", zap.Error(err))
	}
	res := a.Service.RefreshUniverse(ctx)
	a.Log.Info("initial refresh done",
		zap.Int("quotes", len(res.Quotes)),
		zap.Int("errors", len(res.Errors)))
}
